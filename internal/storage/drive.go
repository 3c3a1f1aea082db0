package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/spherical/text-extractor/internal/domain"
)

// DriveSettings configures a google_drive profile. Authentication uses a
// service account key file.
type DriveSettings struct {
	ServiceAccountFile string `yaml:"service_account_file"`
	FolderID           string `yaml:"folder_id"`
}

// DriveBackend stores results as files in a Drive folder. Drive allows
// duplicate names; lookups act on the first match.
type DriveBackend struct {
	svc      *drive.Service
	folderID string
}

// NewDriveBackend builds the Drive client. Extra options are appended after
// the credentials option.
func NewDriveBackend(ctx context.Context, s DriveSettings, opts ...option.ClientOption) (*DriveBackend, error) {
	if s.ServiceAccountFile != "" {
		opts = append([]option.ClientOption{
			option.WithCredentialsFile(s.ServiceAccountFile),
			option.WithScopes(drive.DriveScope),
		}, opts...)
	} else if len(opts) == 0 {
		return nil, domain.ConfigError("google_drive storage needs service_account_file", nil)
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, domain.ConfigError("failed to create Google Drive client", err)
	}
	return &DriveBackend{svc: svc, folderID: s.FolderID}, nil
}

func (b *DriveBackend) Save(ctx context.Context, name, text string) error {
	meta := &drive.File{Name: name}
	if b.folderID != "" {
		meta.Parents = []string{b.folderID}
	}

	_, err := b.svc.Files.Create(meta).
		Media(strings.NewReader(text)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("upload %s to drive: %w", name, err)
	}
	return nil
}

func (b *DriveBackend) Load(ctx context.Context, name string) (string, bool, error) {
	id, err := b.find(ctx, name)
	if err != nil || id == "" {
		return "", false, err
	}

	resp, err := b.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return "", false, fmt.Errorf("download %s from drive: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("read %s from drive: %w", name, err)
	}
	return string(data), true, nil
}

func (b *DriveBackend) List(ctx context.Context) ([]string, error) {
	call := b.svc.Files.List().Spaces("drive").Fields("nextPageToken, files(id, name)")
	if b.folderID != "" {
		call = call.Q(fmt.Sprintf("'%s' in parents", escapeQuery(b.folderID)))
	}

	var names []string
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			names = append(names, f.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list drive files: %w", err)
	}
	return names, nil
}

func (b *DriveBackend) Delete(ctx context.Context, name string) error {
	id, err := b.find(ctx, name)
	if err != nil {
		return err
	}
	if id == "" {
		return domain.NotFound(fmt.Sprintf("file %s not found", name))
	}
	if err := b.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete %s from drive: %w", name, err)
	}
	return nil
}

// find returns the id of the first file called name, or "" when none.
func (b *DriveBackend) find(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s'", escapeQuery(name))
	if b.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(b.folderID))
	}

	res, err := b.svc.Files.List().
		Q(q).
		Spaces("drive").
		Fields("files(id, name)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("search drive for %s: %w", name, err)
	}
	if len(res.Files) == 0 {
		return "", nil
	}
	return res.Files[0].Id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
