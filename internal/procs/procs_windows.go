//go:build windows

package procs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// cimEnumerator lists processes via PowerShell's Get-CimInstance.
type cimEnumerator struct{}

func newPlatformEnumerator() Enumerator {
	return &cimEnumerator{}
}

const cimQuery = `Get-CimInstance Win32_Process | Select-Object ProcessId,CommandLine,CreationDate | ConvertTo-Json -Compress`

// List queries Win32_Process and decodes the JSON payload.
func (e *cimEnumerator) List(ctx context.Context) ([]Info, error) {
	cmd := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", cimQuery)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run Get-CimInstance: %w", err)
	}
	return parseCimJSON(out.String()), nil
}

// parseCimJSON decodes Get-CimInstance output. PowerShell emits a bare
// object for a single result and an array otherwise.
func parseCimJSON(payload string) []Info {
	root := gjson.Parse(payload)
	var procs []Info
	add := func(v gjson.Result) bool {
		pid := int(v.Get("ProcessId").Int())
		if pid <= 0 {
			return true
		}
		procs = append(procs, Info{
			PID:         pid,
			CommandLine: v.Get("CommandLine").String(),
			StartedAt:   parseCimDate(v.Get("CreationDate").String()),
		})
		return true
	}
	if root.IsArray() {
		root.ForEach(func(_, v gjson.Result) bool { return add(v) })
	} else if root.IsObject() {
		add(root)
	}
	return procs
}

// parseCimDate handles the \/Date(ms)\/ form ConvertTo-Json produces.
func parseCimDate(s string) time.Time {
	const prefix, suffix = `/Date(`, `)/`
	if len(s) > len(prefix)+len(suffix) && s[:len(prefix)] == prefix {
		ms, err := strconv.ParseInt(s[len(prefix):len(s)-len(suffix)], 10, 64)
		if err == nil {
			return time.UnixMilli(ms)
		}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// Kill uses taskkill /F. A missing process is not an error.
func (e *cimEnumerator) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	cmd := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid))
	if err := cmd.Run(); err != nil {
		// taskkill exits non-zero when the process is already gone.
		return nil
	}
	return nil
}

// Alive checks whether the PID appears in the process table.
func (e *cimEnumerator) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/NH")
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return bytes.Contains(out, []byte(strconv.Itoa(pid)))
}
