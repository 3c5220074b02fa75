package cmd

import (
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/arcward/sherpa/sherpa"
	"github.com/stretchr/testify/assert"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := sherpa.Version
	originalCommitSHA := sherpa.CommitSHA
	originalBuildTime := sherpa.BuildTime

	t.Cleanup(
		func() {
			sherpa.Version = originalVersion
			sherpa.CommitSHA = originalCommitSHA
			sherpa.BuildTime = originalBuildTime
		},
	)

	sherpa.Version = "1.0.0"
	sherpa.CommitSHA = "abc123"
	sherpa.BuildTime = "2023-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	// Capture the output
	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	output := string(out)
	t.Logf("output: %s", string(out))
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		sherpa.Version,
		sherpa.CommitSHA,
		sherpa.BuildTime,
	)
	assert.Equal(t, expected, output)
}
