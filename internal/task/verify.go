package task

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"modtile/internal/metatile"
)

// Failure 校验失败的元瓦片
type Failure struct {
	Path string
	Err  error
}

// VerifyReport 校验结果
type VerifyReport struct {
	Checked  int
	Aborted  bool
	Failures []Failure
}

// MetaFiles lists every meta-tile file below root, in lexical order.
func MetaFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, metatile.Extension) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// Verify decodes every meta-tile below dir and checks that its header matches
// the location it is stored at. dir is the store root or one of its layer
// directories; paths are always resolved against root.
func (task *Task) Verify(root, dir string) (*VerifyReport, error) {
	files, err := MetaFiles(dir)
	if err != nil {
		return nil, err
	}
	task.log.Infof("verifying %d meta-tiles under %s", len(files), dir)

	var mu sync.Mutex
	report := &VerifyReport{}
	completed := task.run(files, func(path string) {
		err := verifyFile(root, path)
		mu.Lock()
		defer mu.Unlock()
		report.Checked++
		if err != nil {
			task.log.Debugf("%s: %v", path, err)
			report.Failures = append(report.Failures, Failure{Path: path, Err: err})
		}
	})
	report.Aborted = !completed
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].Path < report.Failures[j].Path })
	return report, nil
}

func verifyFile(root, path string) error {
	id, err := metatile.IdentityFromPath(root, path)
	if err != nil {
		return err
	}
	mt, err := metatile.Read(path, "")
	if err != nil {
		return err
	}
	if mt.X != id.X || mt.Y != id.Y || mt.Z != id.Z {
		return fmt.Errorf("%w: header origin %d/%d/%d, path origin %d/%d/%d",
			errMisplaced, mt.Z, mt.X, mt.Y, id.Z, id.X, id.Y)
	}
	return nil
}

var errMisplaced = errors.New("meta-tile stored at the wrong path")
