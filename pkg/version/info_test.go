package version

import (
	"testing"
	"time"
)

func TestCurrent_Defaults(t *testing.T) {
	oldVersion := AppVersion
	oldCommit := GitCommit
	oldBuildTime := BuildTime
	t.Cleanup(func() {
		AppVersion = oldVersion
		GitCommit = oldCommit
		BuildTime = oldBuildTime
	})

	AppVersion = ""
	GitCommit = ""
	BuildTime = ""

	info := Current("")

	if info.Service != Unknown {
		t.Fatalf("expected service %q, got %q", Unknown, info.Service)
	}
	if info.Version != DevelopmentVersion {
		t.Fatalf("expected version %q, got %q", DevelopmentVersion, info.Version)
	}
	if info.Commit != Unknown {
		t.Fatalf("expected commit %q, got %q", Unknown, info.Commit)
	}
	if info.BuildTime != Unknown {
		t.Fatalf("expected build_time %q, got %q", Unknown, info.BuildTime)
	}
}

func TestInfo_FieldsAndString(t *testing.T) {
	info := Info{
		Service:   "grantstore",
		Version:   "v1.4.0",
		Commit:    "abc123",
		BuildTime: Unknown,
	}

	fields := info.Fields()
	if len(fields) != 8 {
		t.Fatalf("expected 4 key/value pairs, got %d items", len(fields))
	}
	if fields[2] != "version" || fields[3] != "v1.4.0" {
		t.Fatalf("unexpected version field %v=%v", fields[2], fields[3])
	}
	if got := info.String(); got != "grantstore@v1.4.0 (commit=abc123, build_time=unknown)" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestInfo_ParseBuildTimeUnknown(t *testing.T) {
	if _, ok := (Info{BuildTime: Unknown}).ParseBuildTime(); ok {
		t.Fatal("unknown build time must not parse")
	}
	if _, ok := (Info{BuildTime: "yesterday"}).ParseBuildTime(); ok {
		t.Fatal("non RFC3339 build time must not parse")
	}
}

func TestInfo_ParseBuildTime(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	info := Info{
		BuildTime: now.Format(time.RFC3339),
	}

	parsed, ok := info.ParseBuildTime()
	if !ok {
		t.Fatalf("expected build time to be parsed")
	}
	if !parsed.Equal(now) {
		t.Fatalf("expected %s, got %s", now, parsed)
	}
}
