package config

import (
	"context"
	"os"
	"time"

	"eyeclinic/internal/model"
)

// RulesEdit is one saved change of the rules file.
type RulesEdit struct {
	Previous *model.ClinicConfig
	Next     *model.ClinicConfig
}

// Patch is the element-wise difference between the two versions of the file.
func (e RulesEdit) Patch() model.ConfigPatch {
	return model.DiffPatch(e.Previous, e.Next)
}

// rulesFile remembers the last version of the file that parsed.
type rulesFile struct {
	path    string
	modTime time.Time
	rules   *model.ClinicConfig
}

func openRulesFile(path string) (*rulesFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	rules, err := LoadClinicConfig(path)
	if err != nil {
		return nil, err
	}
	return &rulesFile{path: path, modTime: info.ModTime(), rules: rules}, nil
}

// poll reports an edit when the file was saved since the last call. A file
// that does not parse is skipped until it is saved again.
func (f *rulesFile) poll() (*RulesEdit, error) {
	info, err := os.Stat(f.path)
	if err != nil || !info.ModTime().After(f.modTime) {
		return nil, nil
	}
	f.modTime = info.ModTime()

	next, err := LoadClinicConfig(f.path)
	if err != nil {
		return nil, err
	}
	edit := &RulesEdit{Previous: f.rules, Next: next}
	f.rules = next
	return edit, nil
}

// WatchClinic polls clinic.yaml and reports every saved edit to onEdit. The
// file as found at start is only the baseline and is returned, not reported:
// the stored rules already account for it.
func WatchClinic(ctx context.Context, path string, interval time.Duration,
	onEdit func(RulesEdit), onError func(error),
) (*model.ClinicConfig, error) {
	if path == "" {
		path = "configs/clinic.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	file, err := openRulesFile(path)
	if err != nil {
		return nil, err
	}
	baseline := file.rules

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				edit, err := file.poll()
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if edit != nil && onEdit != nil {
					onEdit(*edit)
				}
			}
		}
	}()

	return baseline, nil
}
