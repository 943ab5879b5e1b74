// Package resolve turns task descriptors into downloadable locations.
//
// Resolution runs before every fetch attempt. Remote URLs may be short-lived,
// so a Location is never cached or persisted.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	hoardhttp "github.com/ligustah/hoard/internal/http"
	"github.com/ligustah/hoard/internal/task"
)

// Kinds accepted by New.
const (
	KindHead = "head"
	KindJSON = "json"
)

// Placeholder is replaced by the escaped task id in URL templates.
const Placeholder = "{id}"

var (
	ErrInvalidLocation = errors.New("resolve: invalid location")
	ErrUnknownKind     = errors.New("resolve: unknown resolver kind")
)

// Resolver resolves a descriptor to its current remote location.
type Resolver interface {
	Resolve(ctx context.Context, d task.Descriptor) (task.Location, error)
}

// Func adapts a function to Resolver.
type Func func(ctx context.Context, d task.Descriptor) (task.Location, error)

// Resolve calls f(ctx, d).
func (f Func) Resolve(ctx context.Context, d task.Descriptor) (task.Location, error) {
	return f(ctx, d)
}

// Options bound metadata requests.
type Options struct {
	Timeout time.Duration
	Retry   hoardhttp.Retry
}

// New returns the resolver of the given kind.
func New(kind, template string, client *hoardhttp.Client, opts Options) (Resolver, error) {
	if !strings.Contains(template, Placeholder) {
		return nil, fmt.Errorf("resolve: template %q has no %s placeholder", template, Placeholder)
	}
	switch kind {
	case KindHead, "":
		return &Head{client: client, template: template, opts: opts}, nil
	case KindJSON:
		return &JSON{client: client, template: template, opts: opts}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Expand substitutes the escaped task id into template.
func Expand(template, id string) string {
	return strings.ReplaceAll(template, Placeholder, url.PathEscape(id))
}

// Head resolves by issuing a HEAD request against the expanded template and
// taking the size from Content-Length.
type Head struct {
	client   *hoardhttp.Client
	template string
	opts     Options
}

// Resolve implements Resolver.
func (r *Head) Resolve(ctx context.Context, d task.Descriptor) (task.Location, error) {
	u := Expand(r.template, d.ID)
	info, err := r.client.Head(ctx, u, r.opts.Timeout, r.opts.Retry)
	if err != nil {
		return task.Location{}, err
	}
	if info.Size <= 0 {
		return task.Location{}, fmt.Errorf("%w: %s reported no content length", ErrInvalidLocation, u)
	}
	return task.Location{URL: u, Size: info.Size}, nil
}

// JSON resolves by fetching a {"url": ..., "size": ...} document from the
// expanded template. A relative url is resolved against the document URL.
type JSON struct {
	client   *hoardhttp.Client
	template string
	opts     Options
}

type document struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Resolve implements Resolver.
func (r *JSON) Resolve(ctx context.Context, d task.Descriptor) (task.Location, error) {
	u := Expand(r.template, d.ID)

	var doc document
	if err := r.client.GetJSON(ctx, u, r.opts.Timeout, r.opts.Retry, &doc); err != nil {
		return task.Location{}, err
	}
	if doc.URL == "" || doc.Size <= 0 {
		return task.Location{}, fmt.Errorf("%w: %s returned url=%q size=%d", ErrInvalidLocation, u, doc.URL, doc.Size)
	}

	base, err := url.Parse(u)
	if err != nil {
		return task.Location{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	ref, err := url.Parse(doc.URL)
	if err != nil {
		return task.Location{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return task.Location{URL: base.ResolveReference(ref).String(), Size: doc.Size}, nil
}
