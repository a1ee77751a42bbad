package wasmplugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	orascontent "oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// MediaTypePluginSource is the artifact layer media type a plugin
// source file is pushed/pulled under.
const MediaTypePluginSource = "application/vnd.acteon.plugin.source+javascript"

// Ref addresses a plugin artifact in an OCI registry.
type Ref struct {
	Registry string
	Path     string
	Tag      string
}

func (r Ref) String() string {
	if r.Tag == "" {
		return fmt.Sprintf("%s/%s", r.Registry, r.Path)
	}
	return fmt.Sprintf("%s/%s:%s", r.Registry, r.Path, r.Tag)
}

// Fetcher pulls plugin source artifacts from an OCI registry, the same
// distribution mechanism the teacher pack uses for skill packages —
// plugins are just a differently-typed artifact.
type Fetcher struct {
	PlainHTTP bool
	Username  string
	Password  string
}

func NewFetcher() *Fetcher {
	return &Fetcher{}
}

func (f *Fetcher) WithAuth(username, password string) *Fetcher {
	f.Username = username
	f.Password = password
	return f
}

// Fetch pulls the plugin artifact at ref and returns its JavaScript
// source.
func (f *Fetcher) Fetch(ctx context.Context, ref Ref) (string, error) {
	repo, err := f.repository(ref)
	if err != nil {
		return "", fmt.Errorf("connect registry: %w", err)
	}

	store := orascontent.New()
	tag := ref.Tag
	if tag == "" {
		tag = "latest"
	}

	manifestDesc, err := oras.Copy(ctx, repo, tag, store, tag, oras.DefaultCopyOptions)
	if err != nil {
		return "", fmt.Errorf("pull plugin artifact: %w", err)
	}

	manifestReader, err := store.Fetch(ctx, manifestDesc)
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	manifestBytes, err := io.ReadAll(manifestReader)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return "", fmt.Errorf("parse manifest: %w", err)
	}

	for _, layer := range manifest.Layers {
		if layer.MediaType != MediaTypePluginSource {
			continue
		}
		reader, err := store.Fetch(ctx, layer)
		if err != nil {
			return "", fmt.Errorf("fetch plugin layer: %w", err)
		}
		source, err := io.ReadAll(reader)
		if err != nil {
			return "", fmt.Errorf("read plugin layer: %w", err)
		}
		return string(source), nil
	}
	return "", fmt.Errorf("wasmplugin: no %s layer found in %s", MediaTypePluginSource, ref.String())
}

func (f *Fetcher) repository(ref Ref) (*remote.Repository, error) {
	repo, err := remote.NewRepository(fmt.Sprintf("%s/%s", ref.Registry, ref.Path))
	if err != nil {
		return nil, err
	}
	repo.PlainHTTP = f.PlainHTTP
	if f.Username != "" {
		repo.Client = &auth.Client{
			Client: retry.DefaultClient,
			Credential: auth.StaticCredential(ref.Registry, auth.Credential{
				Username: f.Username,
				Password: f.Password,
			}),
		}
	}
	return repo, nil
}
