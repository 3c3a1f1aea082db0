package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/spherical/text-extractor/internal/domain"
)

var fixedNow = time.Date(2024, time.March, 7, 9, 5, 3, 0, time.UTC)

func TestFormatFileName(t *testing.T) {
	tests := []struct {
		template string
		source   string
		want     string
	}{
		{template: "{file_name}.md", source: "docs/report.pdf", want: "report.md"},
		{template: "{file_fullname}", source: "docs/report.pdf", want: "docs/report.pdf"},
		{template: "{file_name}{file_extension}.txt", source: "scan.PNG", want: "scan.PNG.txt"},
		{template: "{Y}-{mm}-{dd}/{HH}{MM}{SS}_{file_name}.md", source: "a.pdf", want: "2024-03-07/090503_a.md"},
		{template: "{file_name}_{unknown}.md", source: "a.pdf", want: "a_{unknown}.md"},
		{template: "static.md", source: "a.pdf", want: "static.md"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatFileName(tt.template, tt.source, fixedNow))
		})
	}
}

func TestDefaultDestination(t *testing.T) {
	assert.Equal(t, "report_pdf.md", DefaultDestination("report.pdf"))
	assert.Equal(t, "a_b_c_png.md", DefaultDestination("a.b.c.png"))
}

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(body), 0o644))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TE_TEST_BUCKET", "results")
	t.Setenv("TE_TEST_EMPTY", "")

	writeProfile(t, dir, "s3", `
strategy: aws_s3
settings:
  bucket_name: ${TE_TEST_BUCKET}
  region: ${TE_TEST_REGION:-eu-west-1}
  access_key: ${TE_TEST_EMPTY:-fallback}
  use_path_style: true
`)
	writeProfile(t, dir, "missing_env", `
strategy: aws_s3
settings:
  bucket_name: ${TE_TEST_DEFINITELY_UNSET}
`)
	writeProfile(t, dir, "bad_strategy", "strategy: ftp\n")
	writeProfile(t, dir, "no_strategy", "settings: {}\n")

	p, err := LoadProfile(dir, "s3")
	require.NoError(t, err)
	assert.Equal(t, StrategyS3, p.Strategy)

	var s S3Settings
	require.NoError(t, p.Decode(&s))
	assert.Equal(t, S3Settings{
		BucketName:   "results",
		Region:       "eu-west-1",
		AccessKey:    "fallback",
		UsePathStyle: true,
	}, s)

	errTests := []struct {
		name    string
		errType domain.ErrorType
	}{
		{name: "missing_env", errType: domain.ErrorTypeConfig},
		{name: "bad_strategy", errType: domain.ErrorTypeConfig},
		{name: "no_strategy", errType: domain.ErrorTypeConfig},
		{name: "absent", errType: domain.ErrorTypeNotFound},
		{name: "../etc", errType: domain.ErrorTypeValidation},
		{name: "", errType: domain.ErrorTypeValidation},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProfile(dir, tt.name)
			require.Error(t, err)
			assert.True(t, domain.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestLocalBackend(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "results")

	b, err := NewLocalBackend(LocalSettings{RootPath: root}, nil)
	require.NoError(t, err)
	assert.DirExists(t, root)

	require.NoError(t, b.Save(ctx, "a.md", "alpha"))
	require.NoError(t, b.Save(ctx, "nested/b.md", "beta"))

	text, ok, err := b.Load(ctx, "nested/b.md")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "beta", text)

	_, ok, err = b.Load(ctx, "nope.md")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "nested/b.md"}, names)

	require.NoError(t, b.Delete(ctx, "a.md"))
	err = b.Delete(ctx, "a.md")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound), "got %v", err)

	err = b.Save(ctx, "../escape.md", "x")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation), "got %v", err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "escape.md"))
}

func TestLocalBackend_Subfolders(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	b, err := NewLocalBackend(LocalSettings{
		RootPath:             root,
		CreateSubfolders:     true,
		SubfolderNamesFormat: "{Y}/{mm}",
	}, func() time.Time { return fixedNow })
	require.NoError(t, err)

	require.NoError(t, b.Save(ctx, "doc.md", "text"))
	assert.FileExists(t, filepath.Join(root, "2024", "03", "doc.md"))

	names, err := b.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"2024/03/doc.md"}, names)

	// listed names load and delete as given, whatever the clock says now
	b.now = func() time.Time { return fixedNow.AddDate(1, 1, 0) }
	text, ok, err := b.Load(ctx, names[0])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "text", text)

	_, ok, err = b.Load(ctx, "doc.md")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Delete(ctx, names[0]))
	assert.NoFileExists(t, filepath.Join(root, "2024", "03", "doc.md"))

	err = b.Save(ctx, "../escape.md", "x")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation), "got %v", err)
}

func TestLocalBackend_HomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	b, err := NewLocalBackend(LocalSettings{RootPath: "~/extracts"}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "extracts"), b.Root())
}

func TestManager_SaveLocal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	root := filepath.Join(dir, "out")
	t.Setenv("TE_TEST_ROOT", root)
	writeProfile(t, dir, "default", `
strategy: local_filesystem
settings:
  root_path: ${TE_TEST_ROOT}
`)

	m := NewManager(dir, nil, WithClock(func() time.Time { return fixedNow }))

	name, err := m.Save(ctx, "default", "invoice.pdf", "", "# Invoice")
	require.NoError(t, err)
	assert.Equal(t, "invoice_pdf.md", name)

	name, err = m.Save(ctx, "default", "invoice.pdf", "{file_name}_{Y}{mm}{dd}.md", "# Invoice")
	require.NoError(t, err)
	assert.Equal(t, "invoice_20240307.md", name)

	names, err := m.List(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"invoice_20240307.md", "invoice_pdf.md"}, names)

	text, ok, err := m.Load(ctx, "default", "invoice_pdf.md")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "# Invoice", text)

	require.NoError(t, m.Delete(ctx, "default", "invoice_pdf.md"))
	err = m.Delete(ctx, "default", "invoice_pdf.md")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound), "got %v", err)

	_, err = m.List(ctx, "absent")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound), "got %v", err)
}

func TestManager_WrapsBackendFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeProfile(t, dir, "broken", "strategy: local_filesystem\n")

	opened := 0
	m := NewManager(dir, nil, WithOpener(StrategyLocal, func(ctx context.Context, p *Profile) (Backend, error) {
		opened++
		return failingBackend{}, nil
	}))

	_, err := m.Save(ctx, "broken", "a.pdf", "", "x")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeStorageFailure), "got %v", err)

	_, err = m.List(ctx, "broken")
	assert.True(t, domain.IsType(err, domain.ErrorTypeStorageFailure), "got %v", err)
	assert.Equal(t, 1, opened)

	_, _, err = m.Load(ctx, "broken", "")
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation), "got %v", err)
}

type failingBackend struct{}

func (failingBackend) Save(ctx context.Context, name, text string) error { return errors.New("disk full") }
func (failingBackend) Load(ctx context.Context, name string) (string, bool, error) {
	return "", false, errors.New("disk full")
}
func (failingBackend) List(ctx context.Context) ([]string, error) { return nil, errors.New("disk full") }
func (failingBackend) Delete(ctx context.Context, name string) error { return errors.New("disk full") }

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	bucket  string
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{objects: map[string]string{}, bucket: bucket}
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if aws.ToString(in.Bucket) != f.bucket {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = string(data)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(v))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Backend(t *testing.T) {
	ctx := context.Background()

	_, err := NewS3Backend(ctx, newFakeS3("results"), "other")
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig), "got %v", err)

	_, err = NewS3Backend(ctx, newFakeS3("results"), "")
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig), "got %v", err)

	fake := newFakeS3("results")
	b, err := NewS3Backend(ctx, fake, "results")
	require.NoError(t, err)

	require.NoError(t, b.Save(ctx, "2024/a.md", "alpha"))
	require.NoError(t, b.Save(ctx, "b.md", "beta"))

	text, ok, err := b.Load(ctx, "2024/a.md")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alpha", text)

	_, ok, err = b.Load(ctx, "missing.md")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024/a.md", "b.md"}, names)

	require.NoError(t, b.Delete(ctx, "b.md"))
	err = b.Delete(ctx, "b.md")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound), "got %v", err)
}

func TestManager_S3Opener(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeProfile(t, dir, "archive", `
strategy: aws_s3
settings:
  bucket_name: results
`)

	fake := newFakeS3("results")
	m := NewManager(dir, nil, WithOpener(StrategyS3, func(ctx context.Context, p *Profile) (Backend, error) {
		var s S3Settings
		if err := p.Decode(&s); err != nil {
			return nil, err
		}
		return NewS3Backend(ctx, fake, s.BucketName)
	}))

	name, err := m.Save(ctx, "archive", "scan.png", "{file_name}.md", "text")
	require.NoError(t, err)
	assert.Equal(t, "scan.md", name)
	assert.Equal(t, "text", fake.objects["scan.md"])
}

// fakeDrive serves the handful of Drive v3 endpoints the backend calls.
type fakeDrive struct {
	mu     sync.Mutex
	files  map[string]driveFile
	nextID int
}

type driveFile struct {
	Name    string
	Parents []string
	Content string
}

var nameQuery = regexp.MustCompile(`name = '((?:[^'\\]|\\.)*)'`)

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/files"):
		f.create(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/files"):
		f.list(w, r)
	case r.Method == http.MethodGet && strings.Contains(path, "/files/"):
		file, ok := f.files[path[strings.LastIndex(path, "/")+1:]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, file.Content)
	case r.Method == http.MethodDelete && strings.Contains(path, "/files/"):
		delete(f.files, path[strings.LastIndex(path, "/")+1:])
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusBadRequest)
	}
}

func (f *fakeDrive) create(w http.ResponseWriter, r *http.Request) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var meta struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mediaPart, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	content, _ := io.ReadAll(mediaPart)

	f.nextID++
	id := fmt.Sprintf("f%d", f.nextID)
	f.files[id] = driveFile{Name: meta.Name, Parents: meta.Parents, Content: string(content)}
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (f *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	want := ""
	if m := nameQuery.FindStringSubmatch(q); m != nil {
		want = strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(m[1])
	}

	ids := make([]string, 0, len(f.files))
	for id := range f.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type entry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := struct {
		Files []entry `json:"files"`
	}{Files: []entry{}}
	for _, id := range ids {
		file := f.files[id]
		if want != "" && file.Name != want {
			continue
		}
		out.Files = append(out.Files, entry{ID: id, Name: file.Name})
	}
	_ = json.NewEncoder(w).Encode(out)
}

func TestDriveBackend(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDrive{files: map[string]driveFile{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	b, err := NewDriveBackend(ctx, DriveSettings{FolderID: "folder-1"},
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)

	require.NoError(t, b.Save(ctx, "o'brien.md", "hello drive"))
	require.Len(t, fake.files, 1)
	assert.Equal(t, []string{"folder-1"}, fake.files["f1"].Parents)

	text, ok, err := b.Load(ctx, "o'brien.md")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello drive", text)

	_, ok, err = b.Load(ctx, "missing.md")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err := b.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"o'brien.md"}, names)

	require.NoError(t, b.Delete(ctx, "o'brien.md"))
	assert.Empty(t, fake.files)

	err = b.Delete(ctx, "o'brien.md")
	assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound), "got %v", err)
}

func TestNewDriveBackend_NeedsCredentials(t *testing.T) {
	_, err := NewDriveBackend(context.Background(), DriveSettings{FolderID: "x"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig), "got %v", err)
}
