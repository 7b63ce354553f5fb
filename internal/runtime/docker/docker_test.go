package docker

import (
	"regexp"
	"slices"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
)

func TestContainerSpec(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Image:   "etl:test",
		Network: "etl-net",
		CPU:     1.5,
		Memory:  512,
		Env:     []string{"ES_HOST=http://es:9200"},
	}

	cc, hc := containerSpec(cfg, []string{"SD_1", "SD_2"}, "RE_1")

	if cc.Image != "etl:test" {
		t.Errorf("Image = %q", cc.Image)
	}
	for _, want := range []string{"STUDY_IDS=SD_1,SD_2", "RELEASE_ID=RE_1", "ES_HOST=http://es:9200"} {
		if !slices.Contains(cc.Env, want) {
			t.Errorf("Env %v missing %q", cc.Env, want)
		}
	}
	if cc.Labels[managedByLabel] != managedByValue {
		t.Errorf("missing managed-by label: %v", cc.Labels)
	}
	if cc.Labels[releaseLabel] != "RE_1" {
		t.Errorf("release label = %q", cc.Labels[releaseLabel])
	}
	if hc.NanoCPUs != 1_500_000_000 {
		t.Errorf("NanoCPUs = %d", hc.NanoCPUs)
	}
	if hc.Memory != 512*1024*1024 {
		t.Errorf("Memory = %d", hc.Memory)
	}
	if hc.NetworkMode != "etl-net" {
		t.Errorf("NetworkMode = %q", hc.NetworkMode)
	}
}

func TestContainerSpec_NoLimits(t *testing.T) {
	t.Parallel()
	_, hc := containerSpec(Config{Image: "etl:test"}, []string{"SD_1"}, "RE_1")

	if hc.NanoCPUs != 0 || hc.Memory != 0 {
		t.Errorf("expected no resource limits, got cpu=%d mem=%d", hc.NanoCPUs, hc.Memory)
	}
	if hc.NetworkMode != "" {
		t.Errorf("NetworkMode = %q, want default", hc.NetworkMode)
	}
}

func TestContainerName(t *testing.T) {
	t.Parallel()
	valid := regexp.MustCompile(`^etl-[a-zA-Z0-9_.-]+-[0-9a-f]{8}$`)

	for _, release := range []string{"RE_1", "release/with spaces", "ré"} {
		name := containerName(release)
		if !valid.MatchString(name) {
			t.Errorf("containerName(%q) = %q, not a valid container name", release, name)
		}
	}
	if containerName("RE_1") == containerName("RE_1") {
		t.Error("expected unique names per call")
	}
}

func TestExitClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		state         container.State
		wantUnstarted bool
		wantExited    bool
		wantFailed    bool
	}{
		{name: "created", state: container.State{Status: "created"}, wantUnstarted: true},
		{name: "created with start error", state: container.State{Status: "created", Error: "exec format error"}, wantUnstarted: true},
		{name: "running", state: container.State{Status: "running", Running: true}},
		{name: "paused", state: container.State{Status: "paused", Running: true, Paused: true}},
		{name: "clean exit", state: container.State{Status: "exited"}, wantExited: true},
		{name: "non-zero exit", state: container.State{Status: "exited", ExitCode: 2}, wantExited: true, wantFailed: true},
		{name: "oom", state: container.State{Status: "exited", ExitCode: 137, OOMKilled: true}, wantExited: true, wantFailed: true},
		{name: "dead", state: container.State{Status: "dead", Error: "driver failed"}, wantExited: true, wantFailed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := unstarted(&tt.state); got != tt.wantUnstarted {
				t.Errorf("unstarted() = %v, want %v", got, tt.wantUnstarted)
			}
			if got := exited(&tt.state); got != tt.wantExited {
				t.Errorf("exited() = %v, want %v", got, tt.wantExited)
			}
			if !tt.wantExited {
				return
			}
			if got := failedExit(&tt.state); got != tt.wantFailed {
				t.Errorf("failedExit() = %v, want %v", got, tt.wantFailed)
			}
		})
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		state     container.State
		retention time.Duration
		want      bool
	}{
		{name: "old", state: container.State{FinishedAt: "2024-05-01T10:00:00Z"}, retention: time.Hour, want: true},
		{name: "recent", state: container.State{FinishedAt: "2024-05-01T11:30:00Z"}, retention: time.Hour},
		{name: "running", state: container.State{Running: true, FinishedAt: "2024-05-01T10:00:00Z"}, retention: time.Hour},
		{name: "retention disabled", state: container.State{FinishedAt: "2024-05-01T10:00:00Z"}},
		{name: "unparseable", state: container.State{FinishedAt: "never"}, retention: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := expired(&tt.state, now, tt.retention); got != tt.want {
				t.Errorf("expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()
	c := Config{Image: "etl:test"}.withDefaults()
	if c.StopTimeout != 10*time.Second {
		t.Errorf("StopTimeout = %v", c.StopTimeout)
	}
	if c.MaintenanceInterval != time.Minute {
		t.Errorf("MaintenanceInterval = %v", c.MaintenanceInterval)
	}
}
