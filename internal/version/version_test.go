package version

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestPrettyOmitsEmptyFields(t *testing.T) {
	color.NoColor = true
	info := Info{Version: "1.0.0", IRSchema: "1.2.0", Go: "go1.25"}
	out := info.Pretty()
	if !strings.HasPrefix(out, "qcheck 1.0.0\n") {
		t.Fatalf("unexpected header:\n%s", out)
	}
	if strings.Contains(out, "commit") || strings.Contains(out, "built") {
		t.Fatalf("empty optional fields should be hidden:\n%s", out)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := GitCommit
	GitCommit = "abc123"
	defer func() { GitCommit = orig }()

	data, err := Current().JSON()
	if err != nil {
		t.Fatal(err)
	}
	var got Info
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.GitCommit != "abc123" || got.Version != Version {
		t.Fatalf("decoded %+v", got)
	}
}
