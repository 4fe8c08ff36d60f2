package probe

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
)

// EntryFile is the single source file inside every bundle; the handler
// "lambda_function.lambda_handler" resolves against it.
const EntryFile = "lambda_function.py"

// Bundle is a deployable zip archive held in memory.
type Bundle struct {
	Name string
	Zip  []byte
}

// Packager writes generated source into a scoped temporary directory and
// archives it. The directory and zip file are removed on every exit path.
type Packager struct {
	// TempDir is the parent for working directories; empty means os.TempDir().
	TempDir string
}

func (p *Packager) Package(name, source string) (Bundle, error) {
	if err := ValidateName(name); err != nil {
		return Bundle{}, err
	}

	workDir, err := os.MkdirTemp(p.TempDir, "probe-"+name+"-")
	if err != nil {
		return Bundle{}, fmt.Errorf("create work dir for %s: %w", name, err)
	}
	defer os.RemoveAll(workDir)

	srcPath := filepath.Join(workDir, EntryFile)
	if err := os.WriteFile(srcPath, []byte(source), 0600); err != nil {
		return Bundle{}, fmt.Errorf("write source for %s: %w", name, err)
	}

	zipPath := filepath.Join(workDir, name+".zip")
	if err := writeZip(zipPath, srcPath); err != nil {
		return Bundle{}, fmt.Errorf("archive %s: %w", name, err)
	}

	data, err := os.ReadFile(zipPath)
	if err != nil {
		return Bundle{}, fmt.Errorf("read bundle %s: %w", name, err)
	}
	return Bundle{Name: name, Zip: data}, nil
}

func writeZip(zipPath, srcPath string) (err error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	src, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(out)
	hdr := &zip.FileHeader{Name: EntryFile, Method: zip.Deflate}
	hdr.SetMode(0644)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if _, err := w.Write(src); err != nil {
		return err
	}
	return zw.Close()
}
