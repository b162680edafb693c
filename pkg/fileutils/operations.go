package fileutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// PlaceResult records where Place moved a file so the move can be undone.
type PlaceResult struct {
	OriginalPath  string
	NewPath       string
	FolderCreated bool
	SidecarMoved  bool
}

// Place moves a file into rootDir/[Author] Title/Title.ext, creating the
// folder if needed and picking a unique name if the target already exists.
// A text sidecar next to the file is carried along.
func Place(originalPath, rootDir string, opts OrganizedNameOptions) (*PlaceResult, error) {
	result := &PlaceResult{
		OriginalPath: originalPath,
	}

	targetFolder := filepath.Join(rootDir, GenerateOrganizedFolderName(opts))
	targetPath := filepath.Join(targetFolder, GenerateOrganizedFileName(opts, originalPath))

	if _, err := os.Stat(targetFolder); os.IsNotExist(err) {
		if err := os.MkdirAll(targetFolder, 0755); err != nil {
			return result, errors.WithStack(err)
		}
		result.FolderCreated = true
	}

	targetPath = UniqueFilepath(targetPath)
	result.NewPath = targetPath

	if err := MoveFile(originalPath, targetPath); err != nil {
		if result.FolderCreated {
			os.RemoveAll(targetFolder)
		}
		return result, errors.WithStack(err)
	}

	// The book file is already in place; a sidecar that fails to follow is
	// left behind rather than failing the placement.
	result.SidecarMoved, _ = moveSidecar(originalPath, targetPath)

	return result, nil
}

// Undo moves a placed file back where it came from and removes the folder if
// Place created it.
func (r *PlaceResult) Undo() error {
	if r == nil || r.NewPath == "" {
		return nil
	}
	if err := MoveFile(r.NewPath, r.OriginalPath); err != nil {
		return errors.WithStack(err)
	}
	if r.SidecarMoved {
		if _, err := moveSidecar(r.NewPath, r.OriginalPath); err != nil {
			return errors.WithStack(err)
		}
	}
	if r.FolderCreated {
		// Remove only succeeds on an empty directory, which is what we want.
		_ = os.Remove(filepath.Dir(r.NewPath))
	}
	return nil
}

// MoveFile safely moves a file from source to destination.
func MoveFile(src, dst string) error {
	// A rename only works within the same filesystem.
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	err = copyFile(src, dst)
	if err != nil {
		return errors.WithStack(err)
	}

	// Remove the source file only after successful copy.
	err = os.Remove(src)
	if err != nil {
		os.Remove(dst)
		return errors.WithStack(err)
	}

	return nil
}

// copyFile copies a file from source to destination.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return errors.WithStack(err)
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return errors.WithStack(err)
	}

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return errors.WithStack(err)
	}

	err = destFile.Chmod(sourceInfo.Mode())
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// UniqueFilepath returns path, or "name (N).ext" for the first N that
// doesn't exist yet.
func UniqueFilepath(path string) string {
	return uniquePath(path, "%s (%d)%s")
}

func uniquePath(path, pattern string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	nameWithoutExt := strings.TrimSuffix(filepath.Base(path), ext)

	for i := 1; i < 1000; i++ {
		newPath := filepath.Join(dir, fmt.Sprintf(pattern, nameWithoutExt, i, ext))
		if _, err := os.Stat(newPath); os.IsNotExist(err) {
			return newPath
		}
	}

	// Fallback - this should rarely happen
	return path
}

// CreateExclusive creates a new file at path, or at "name_N.ext" for the
// first N that is free. The file is opened with O_EXCL so concurrent callers
// never share a path.
func CreateExclusive(path string) (*os.File, string, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	nameWithoutExt := strings.TrimSuffix(filepath.Base(path), ext)

	candidate := path
	for i := 1; i <= 1000; i++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", errors.WithStack(err)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", nameWithoutExt, i, ext))
	}
	return nil, "", errors.Errorf("no free filename for %s", path)
}

// SidecarPath returns the path of the extracted-text sidecar kept next to a
// file: the same name with a .txt extension.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
}

// moveSidecar moves the text sidecar of src next to dst, if there is one.
func moveSidecar(src, dst string) (bool, error) {
	from := SidecarPath(src)
	if _, err := os.Stat(from); err != nil {
		return false, nil
	}
	if err := MoveFile(from, SidecarPath(dst)); err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

// Organizer places files under a fixed library root.
type Organizer struct {
	root string
}

func NewOrganizer(root string) *Organizer {
	return &Organizer{root}
}

func (o *Organizer) Root() string {
	return o.root
}

// Place moves src into the organizer's root. See Place.
func (o *Organizer) Place(src string, opts OrganizedNameOptions) (*PlaceResult, error) {
	return Place(src, o.root, opts)
}
