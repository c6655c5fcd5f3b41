package jobrunner

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"io"
	"maps"
	"regexp"
	"slices"
	"strconv"

	"depot/internal/apperrors"
	"depot/internal/job"

	"github.com/klauspost/compress/gzip"
)

// Import actions written to the output CSV
const (
	ActionUpdated  = "UPDATED"
	ActionNone     = "NONE"
	ActionNotFound = "NOTFOUND"
	ActionInvalid  = "INVALID"
)

const maxIconBytes = 100 << 10 // 100KB

// iconPathPattern matches hicn/<pkg>/icon.hvif and hicn/<pkg>/<size>.png
var iconPathPattern = regexp.MustCompile(`^hicn/([a-zA-Z0-9_.+-]+)/(?:(icon)\.hvif|(16|32|64)\.png)$`)

var hvifMagic = []byte("ncif")

var iconImportHeader = []string{"path", "pkg-name", "media-type", "size", "action", "sha256", "message"}

type iconEntry struct {
	path string
	icon Icon
}

// PkgIconImportArchiveRunner replaces package icons from a tar archive.
// Every icon of a package named in the archive is replaced, so icons absent
// from the archive are removed.
type PkgIconImportArchiveRunner struct {
	Icons IconStore
}

// Run implements job.Runner.
func (r *PkgIconImportArchiveRunner) Run(ctx context.Context, rc *job.RunContext) error {
	spec, ok := rc.Specification().(*PkgIconImportArchiveSpec)
	if !ok {
		return fmt.Errorf("unexpected specification %T", rc.Specification())
	}

	_, in, err := rc.OpenSoleInput(ctx)
	if err != nil {
		return err
	}
	defer in.Close()

	archive, err := maybeGunzip(in)
	if err != nil {
		return err
	}

	w := csv.NewWriter(rc.CreateOutput("pkgiconimportarchive.csv", "text/csv"))
	if err := w.Write(iconImportHeader); err != nil {
		return err
	}

	byPkg := make(map[string][]iconEntry)
	tr := tar.NewReader(archive)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return apperrors.Validation("inputDataGuid", fmt.Sprintf("malformed tar archive: %v", err))
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		pkgName, entry, msg := readIconEntry(hdr, tr)
		if msg != "" {
			if err := w.Write([]string{hdr.Name, pkgName, "", "", ActionInvalid, "", msg}); err != nil {
				return err
			}
			continue
		}
		byPkg[pkgName] = append(byPkg[pkgName], entry)
	}

	pkgNames := slices.Sorted(maps.Keys(byPkg))
	for i, pkgName := range pkgNames {
		entries := byPkg[pkgName]
		action, msg, err := r.importPkg(ctx, pkgName, entries, spec.OwnerUserNickname())
		if err != nil {
			return err
		}
		for _, e := range entries {
			row := []string{e.path, pkgName, e.icon.MediaType, sizeColumn(e.icon.Size), action, e.icon.SHA256, msg}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		rc.SetProgress((i + 1) * 100 / len(pkgNames))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	rc.Logger().Info("Icon archive imported", "pkgs", len(pkgNames))
	return nil
}

func (r *PkgIconImportArchiveRunner) importPkg(ctx context.Context, pkgName string, entries []iconEntry, owner string) (string, string, error) {
	exists, err := r.Icons.PkgExists(ctx, pkgName)
	if err != nil {
		return "", "", apperrors.Storage("lookup pkg", err)
	}
	if !exists {
		return ActionNotFound, "pkg not found", nil
	}

	icons := make([]Icon, 0, len(entries))
	for _, e := range entries {
		icons = append(icons, e.icon)
	}
	if err := r.Icons.ReplaceIcons(ctx, pkgName, icons, owner); err != nil {
		return "", "", apperrors.Storage("replace pkg icons", err)
	}
	return ActionUpdated, "", nil
}

// readIconEntry reads and checks one archive member. A non-empty message
// describes why the member is invalid.
func readIconEntry(hdr *tar.Header, r io.Reader) (string, iconEntry, string) {
	m := iconPathPattern.FindStringSubmatch(hdr.Name)
	if m == nil {
		return "", iconEntry{}, "unrecognized path"
	}
	pkgName := m[1]
	if hdr.Size > maxIconBytes {
		return pkgName, iconEntry{}, fmt.Sprintf("icon exceeds %d bytes", maxIconBytes)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxIconBytes+1))
	if err != nil {
		return pkgName, iconEntry{}, fmt.Sprintf("unreadable: %v", err)
	}

	icon := Icon{Data: data}
	if m[2] != "" {
		if !bytes.HasPrefix(data, hvifMagic) {
			return pkgName, iconEntry{}, "not a haiku vector icon"
		}
		icon.MediaType = MediaTypeHVIF
	} else {
		size, _ := strconv.Atoi(m[3])
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return pkgName, iconEntry{}, "not a png image"
		}
		if cfg.Width != size || cfg.Height != size {
			return pkgName, iconEntry{}, fmt.Sprintf("expected %dx%d, got %dx%d", size, size, cfg.Width, cfg.Height)
		}
		icon.MediaType = MediaTypePNG
		icon.Size = size
	}

	sum := sha256.Sum256(data)
	icon.SHA256 = hex.EncodeToString(sum[:])
	return pkgName, iconEntry{path: hdr.Name, icon: icon}, ""
}

// maybeGunzip decompresses r when it starts with the gzip magic number.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, apperrors.Validation("inputDataGuid", fmt.Sprintf("malformed gzip stream: %v", err))
		}
		return zr, nil
	}
	return br, nil
}

func sizeColumn(size int) string {
	if size == 0 {
		return ""
	}
	return strconv.Itoa(size)
}
