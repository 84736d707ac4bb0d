// Command verify checks the integrity of a data tree against its
// consolidated manifests. Every listed file is re-hashed and its size
// compared with the recorded one.
//
// Usage:
//
//	go run ./cmd/verify --data-dir data
//	go run ./cmd/verify --data-dir data --area raw --area normalized
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/couchcryptid/geodata-etl/internal/domain"
	"github.com/couchcryptid/geodata-etl/internal/ingest"
	"github.com/couchcryptid/geodata-etl/internal/manifest"
	"github.com/urfave/cli/v3"
)

var errVerifyFailed = errors.New("verification failed")

func main() {
	cmd := &cli.Command{
		Name:  "verify",
		Usage: "Re-hash every file listed in the consolidated manifests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Root of the data tree",
				Value:   "data",
				Sources: cli.EnvVars("DATA_DIR"),
			},
			&cli.StringSliceFlag{
				Name:  "area",
				Usage: "Area to verify (repeatable; default raw, processed and normalized)",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			areas := cmd.StringSlice("area")
			if len(areas) == 0 {
				areas = []string{ingest.AreaRaw, ingest.AreaProcessed, ingest.AreaNormalized}
			}
			ok, err := verify(os.Stdout, ingest.Layout{Root: cmd.String("data-dir")}, areas)
			if err != nil {
				return err
			}
			if !ok {
				return errVerifyFailed
			}
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
}

// phase tracks pass/fail for one area.
type phase struct {
	name   string
	files  int
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// verify checks each area and writes the report to w. An area without a
// consolidated manifest is a failure, not an error; err is only set when
// a manifest cannot be parsed.
func verify(w io.Writer, layout ingest.Layout, areas []string) (bool, error) {
	fmt.Fprintln(w, "=== Data Tree Integrity Verification ===")
	fmt.Fprintln(w)

	phases := make([]*phase, 0, len(areas))
	for _, area := range areas {
		p, err := verifyArea(layout, area)
		if err != nil {
			return false, err
		}
		phases = append(phases, p)
	}

	allPassed := true
	total := 0
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		total += p.files
		fmt.Fprintf(w, "  %-12s %4d files  %s\n", p.name, p.files, status)
	}
	fmt.Fprintf(w, "\nFiles checked: %d\n", total)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll files verified.")
		return true, nil
	}
	fmt.Fprintln(w, "\nVerification FAILED.")
	return false, nil
}

func verifyArea(layout ingest.Layout, area string) (*phase, error) {
	p := &phase{name: area}

	path := layout.AreaManifest(area)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		p.errorf("%s: consolidated manifest missing", path)
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	var c domain.ConsolidatedManifest
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if c.TotalFiles != len(c.Files) {
		p.errorf("total_files is %d but %d files are listed", c.TotalFiles, len(c.Files))
	}

	for _, m := range c.Files {
		p.files++
		checkFile(p, layout.Root, m)
	}
	return p, nil
}

func checkFile(p *phase, root string, m domain.Manifest) {
	path := filepath.Join(root, filepath.FromSlash(m.Filepath))

	info, err := os.Stat(path)
	if err != nil {
		p.errorf("%s: %v", m.Filepath, err)
		return
	}
	if info.Size() != m.SizeBytes {
		p.errorf("%s: size %d, manifest says %d", m.Filepath, info.Size(), m.SizeBytes)
	}
	if m.HashType != domain.HashType {
		p.errorf("%s: unsupported hash type %q", m.Filepath, m.HashType)
		return
	}
	h, err := manifest.Hash(path)
	if err != nil {
		p.errorf("%s: %v", m.Filepath, err)
		return
	}
	if h != m.Hash {
		p.errorf("%s: hash %s, manifest says %s", m.Filepath, h, m.Hash)
	}
}
