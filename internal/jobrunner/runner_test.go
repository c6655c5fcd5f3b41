package jobrunner

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"depot/internal/job"
	"depot/internal/naturallanguage"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLanguages struct {
	languages    []naturallanguage.NaturalLanguage
	withMessages naturallanguage.Set
	withData     naturallanguage.Set
	messages     map[string]int
}

func (f *fakeLanguages) GetAllNaturalLanguages(context.Context) ([]naturallanguage.NaturalLanguage, error) {
	return f.languages, nil
}

func (f *fakeLanguages) FindNaturalLanguagesWithLocalizationMessages(context.Context) (naturallanguage.Set, error) {
	return f.withMessages, nil
}

func (f *fakeLanguages) FindNaturalLanguagesWithData(context.Context) (naturallanguage.Set, error) {
	return f.withData, nil
}

func (f *fakeLanguages) GetAllLocalizationMessages(_ context.Context, c naturallanguage.Coordinates) (naturallanguage.Bundle, error) {
	m := make(map[string]string)
	for i := range f.messages[c.Code()] {
		m[strings.Repeat("k", i+1)] = "v"
	}
	return naturallanguage.NewBundle(m), nil
}

func newRunnerService(t *testing.T, deps Dependencies) *job.Service {
	t.Helper()
	svc, err := job.NewService(job.Config{
		Store:         job.NewMemoryDataStore(),
		Registrations: Registrations(deps),
		Workers:       1,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc
}

// runToCompletion runs spec and returns the snapshot and the records of its single output.
func runToCompletion(t *testing.T, svc *job.Service, spec job.Specification) (job.Snapshot, [][]string) {
	t.Helper()
	guid, err := svc.Immediate(context.Background(), spec, true)
	require.NoError(t, err)
	snap, ok := svc.TryGetJob(guid)
	require.True(t, ok)
	if snap.Status != job.StatusFinished {
		return snap, nil
	}
	require.Len(t, snap.GeneratedDataGUIDs, 1)

	_, rc, ok, err := svc.TryObtainData(context.Background(), snap.GeneratedDataGUIDs[0])
	require.NoError(t, err)
	require.True(t, ok)
	defer rc.Close()
	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	require.NoError(t, err)
	return snap, records
}

func TestLocalizationCoverageReport(t *testing.T) {
	t.Parallel()
	en := naturallanguage.NewCoordinates("en", "", "")
	de := naturallanguage.NewCoordinates("de", "", "")
	ptBR := naturallanguage.NewCoordinates("pt", "", "BR")
	svc := newRunnerService(t, Dependencies{Languages: &fakeLanguages{
		languages: []naturallanguage.NaturalLanguage{
			{Coordinates: de, Name: "Deutsch", IsPopular: true},
			{Coordinates: en, Name: "English", IsPopular: true},
			{Coordinates: ptBR, Name: "Português (Brasil)"},
		},
		withMessages: naturallanguage.NewSet(en, de),
		withData:     naturallanguage.NewSet(en, ptBR),
		messages:     map[string]int{"en": 3, "de": 2, "pt-BR": 0},
	}})

	snap, records := runToCompletion(t, svc, &LocalizationCoverageReportSpec{})

	require.Equal(t, job.StatusFinished, snap.Status, snap.FailureReason)
	assert.Equal(t, [][]string{
		coverageReportHeader,
		{"de", "Deutsch", "true", "true", "false", "2"},
		{"en", "English", "true", "true", "true", "3"},
		{"pt-BR", "Português (Brasil)", "false", "false", "true", "0"},
	}, records)
}

func pngOf(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size))))
	return buf.Bytes()
}

func tarball(t *testing.T, files map[string][]byte, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "hicn/", Typeflag: tar.TypeDir, Mode: 0o755}))
	for _, name := range order {
		data := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(data))}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestPkgIconImportArchive(t *testing.T) {
	t.Parallel()
	catalog := NewMemoryCatalog()
	catalog.AddPkg("pkg1")
	catalog.AddPkg("pkg2")
	require.NoError(t, catalog.ReplaceIcons(context.Background(), "pkg2", []Icon{{MediaType: MediaTypePNG, Size: 16, Data: pngOf(t, 16)}}, "setup"))

	hvif := append([]byte("ncif"), 0x01, 0x02, 0x03)
	png32 := pngOf(t, 32)
	files := map[string][]byte{
		"hicn/pkg2/icon.hvif": hvif,
		"hicn/pkg2/32.png":    png32,
		"hicn/pkg9/icon.hvif": hvif,
		"hicn/pkg1/64.png":    pngOf(t, 32),
		"hicn/readme.txt":     []byte("hello"),
	}
	order := []string{"hicn/pkg2/icon.hvif", "hicn/pkg2/32.png", "hicn/pkg9/icon.hvif", "hicn/pkg1/64.png", "hicn/readme.txt"}

	svc := newRunnerService(t, Dependencies{Icons: catalog})
	for _, encoding := range []job.Encoding{job.EncodingGzip, job.EncodingNone} {
		t.Run(string(encoding), func(t *testing.T) {
			data, err := svc.StoreSuppliedData(context.Background(), "icons.tgz", "application/x-tar", encoding, bytes.NewReader(tarball(t, files, order)))
			require.NoError(t, err)

			snap, records := runToCompletion(t, svc, NewPkgIconImportArchiveSpec("sebastian", data.GUID))

			require.Equal(t, job.StatusFinished, snap.Status, snap.FailureReason)
			assert.Equal(t, [][]string{
				iconImportHeader,
				{"hicn/pkg1/64.png", "pkg1", "", "", ActionInvalid, "", "expected 64x64, got 32x32"},
				{"hicn/readme.txt", "", "", "", ActionInvalid, "", "unrecognized path"},
				{"hicn/pkg2/icon.hvif", "pkg2", MediaTypeHVIF, "", ActionUpdated, sha(hvif), ""},
				{"hicn/pkg2/32.png", "pkg2", MediaTypePNG, "32", ActionUpdated, sha(png32), ""},
				{"hicn/pkg9/icon.hvif", "pkg9", MediaTypeHVIF, "", ActionNotFound, sha(hvif), "pkg not found"},
			}, records)

			icons := catalog.Icons("pkg2")
			require.Len(t, icons, 2)
			assert.Equal(t, MediaTypeHVIF, icons[0].MediaType)
			assert.Equal(t, 32, icons[1].Size)
			assert.Empty(t, catalog.Icons("pkg1"))
		})
	}
	assert.Contains(t, catalog.Modifications(),
		"sebastian: add icon for pkg [pkg2]; size [32]; media type [image/png]; sha256 ["+sha(png32)+"]")
}

func TestPkgIconImportArchive_MalformedArchiveFails(t *testing.T) {
	t.Parallel()
	catalog := NewMemoryCatalog()
	svc := newRunnerService(t, Dependencies{Icons: catalog})
	data, err := svc.StoreSuppliedData(context.Background(), "icons.tar", "application/x-tar", job.EncodingNone, strings.NewReader(strings.Repeat("garbage", 100)))
	require.NoError(t, err)

	snap, _ := runToCompletion(t, svc, NewPkgIconImportArchiveSpec("sebastian", data.GUID))

	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Contains(t, snap.FailureReason, "malformed tar archive")
	assert.Empty(t, snap.GeneratedDataGUIDs)
}

func TestPkgCategoryCoverageImportSpreadsheet(t *testing.T) {
	t.Parallel()
	catalog := NewMemoryCatalog("audio", "graphics", "games")
	catalog.AddPkg("pkg1", "games")
	catalog.AddPkg("pkg2", "audio")
	svc := newRunnerService(t, Dependencies{Categories: catalog})

	input := "pkg-name,audio,graphics,games\n" +
		"pkg1,X,x,\n" +
		"pkg2,X,,\n" +
		"pkg3,,X,\n" +
		"pkg4,,,\n" +
		"pkg5,maybe,,\n"
	data, err := svc.StoreSuppliedData(context.Background(), "input", "text/csv; charset=utf-8", job.EncodingNone, strings.NewReader(input))
	require.NoError(t, err)

	snap, records := runToCompletion(t, svc, NewPkgCategoryCoverageImportSpreadsheetSpec("samuel", data.GUID))

	require.Equal(t, job.StatusFinished, snap.Status, snap.FailureReason)
	assert.Equal(t, [][]string{
		{"pkg-name", "audio", "graphics", "games", "action"},
		{"pkg1", "X", "x", "", ActionUpdated},
		{"pkg2", "X", "", "", ActionNone},
		{"pkg3", "", "X", "", ActionNotFound},
		{"pkg4", "", "", "", ActionInvalid},
		{"pkg5", "maybe", "", "", ActionInvalid},
	}, records)

	codes, ok, err := catalog.PkgCategories(context.Background(), "pkg1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"audio", "graphics"}, codes)
}

func TestPkgCategoryCoverageImportSpreadsheet_UnknownCategoryFails(t *testing.T) {
	t.Parallel()
	catalog := NewMemoryCatalog("audio")
	svc := newRunnerService(t, Dependencies{Categories: catalog})
	data, err := svc.StoreSuppliedData(context.Background(), "input", "text/csv", job.EncodingNone, strings.NewReader("pkg-name,audio,cooking\n"))
	require.NoError(t, err)

	snap, _ := runToCompletion(t, svc, NewPkgCategoryCoverageImportSpreadsheetSpec("samuel", data.GUID))

	assert.Equal(t, job.StatusFailed, snap.Status)
	assert.Contains(t, snap.FailureReason, `unknown category "cooking"`)
}

func TestImportSpec_Validation(t *testing.T) {
	t.Parallel()
	assert.Error(t, NewPkgIconImportArchiveSpec("sebastian", "").Validate())
	assert.Nil(t, NewPkgIconImportArchiveSpec("sebastian", "").SuppliedDataGUIDs())
	assert.NoError(t, NewPkgCategoryCoverageImportSpreadsheetSpec("samuel", "g").Validate())
	assert.Equal(t, []string{"g"}, NewPkgCategoryCoverageImportSpreadsheetSpec("samuel", "g").SuppliedDataGUIDs())
}

func TestSpecifications_DecodeThroughRegistrations(t *testing.T) {
	t.Parallel()
	svc := newRunnerService(t, Dependencies{Icons: NewMemoryCatalog(), Categories: NewMemoryCatalog()})

	spec, err := svc.DecodeSpecification([]byte(`{"type":"pkgiconimportarchive","ownerUserNickname":"sebastian","inputDataGuid":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, NewPkgIconImportArchiveSpec("sebastian", "abc"), spec)

	encoded, err := job.MarshalSpecification(spec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pkgiconimportarchive","ownerUserNickname":"sebastian","inputDataGuid":"abc"}`, string(encoded))

	key1, err := spec.CoalesceKey()
	require.NoError(t, err)
	key2, err := NewPkgIconImportArchiveSpec("sebastian", "abc").CoalesceKey()
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}
