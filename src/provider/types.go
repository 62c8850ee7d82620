package provider

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of an instance as reported by the provider.
// Transitional provider states (pending, stopping, shutting-down) are kept
// verbatim; only StateStopped triggers remediation.
type State string

const (
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateTerminated State = "terminated"
	StateUnknown    State = "unknown"
)

// CreationDateLayout is the provider format of Image.CreationDate,
// e.g. 2018-02-05T18:43:27.000Z.
const CreationDateLayout = "2006-01-02T15:04:05.000Z"

// Instance is a compute instance currently holding a monitored hostname.
// An empty ID means no instance could be resolved.
type Instance struct {
	ID    string
	Name  string
	State State
	Zone  string
}

// Tag is a single key/value pair attached to an image.
type Tag struct {
	Key   string
	Value string
}

// Tags is an ordered tag sequence.
type Tags []Tag

// Keys returns the tag keys in order.
func (t Tags) Keys() []string {
	out := make([]string, 0, len(t))
	for _, tag := range t {
		out = append(out, tag.Key)
	}
	return out
}

// Get returns the value of the first tag with the given key.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// HasAll reports whether every key in keys is present.
func (t Tags) HasAll(keys []string) bool {
	for _, k := range keys {
		if _, ok := t.Get(k); !ok {
			return false
		}
	}
	return true
}

// With returns a copy of t with tag appended. t itself is never modified.
func (t Tags) With(tag Tag) Tags {
	out := make(Tags, 0, len(t)+1)
	out = append(out, t...)
	return append(out, tag)
}

// Extent is a storage unit backing an image (an EBS snapshot, an Incus image
// volume). An empty ID marks a device mapping without a storage reference.
type Extent struct {
	Device string
	ID     string
}

// Image is a backup image as listed by the provider.
type Image struct {
	ID           string
	Name         string
	CreationDate string
	Tags         Tags
	Extents      []Extent
}

// ImageSpec describes an image to create from an instance.
type ImageSpec struct {
	Name        string
	Description string
	Tags        Tags
}

// ImageFilter narrows ListImages. TagKeys match images carrying the keys;
// Tags match exact key=value pairs. Providers may apply TagKeys with OR
// semantics, so callers re-check the result.
type ImageFilter struct {
	TagKeys []string
	Tags    Tags
}

// Client is the narrow provider interface used by the reaper.
// Keep it small and focused on what we actually need so it stays mockable.
type Client interface {
	// Instances
	FindInstancesByIP(ctx context.Context, ip string) ([]Instance, error)
	GetInstance(ctx context.Context, id string) (Instance, error)
	TerminateInstance(ctx context.Context, id string) error

	// Images
	CreateImage(ctx context.Context, instanceID string, spec ImageSpec) (string, error)
	WaitImageExists(ctx context.Context, imageID string, maxWait time.Duration) error
	WaitImageAvailable(ctx context.Context, imageID string, maxWait time.Duration) error
	ListImages(ctx context.Context, filter ImageFilter) ([]Image, error)
	DeregisterImage(ctx context.Context, imageID string) error

	// Storage
	DeleteExtent(ctx context.Context, extentID string) error
}

// NotFoundError is returned when a resource does not exist.
type NotFoundError struct{ Resource, Name string }

func (e *NotFoundError) Error() string { return e.Resource + " not found: " + e.Name }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
