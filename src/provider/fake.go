package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Operation names recorded in FakeClient.Calls and accepted by FailOn.
const (
	OpFindInstancesByIP  = "FindInstancesByIP"
	OpGetInstance        = "GetInstance"
	OpTerminateInstance  = "TerminateInstance"
	OpCreateImage        = "CreateImage"
	OpWaitImageExists    = "WaitImageExists"
	OpWaitImageAvailable = "WaitImageAvailable"
	OpListImages         = "ListImages"
	OpDeregisterImage    = "DeregisterImage"
	OpDeleteExtent       = "DeleteExtent"
)

// FakeClient is an in-memory implementation for unit tests.
type FakeClient struct {
	Instances map[string]Instance
	// IPs maps an address to instance IDs in provider order.
	IPs     map[string][]string
	Images  []Image
	Extents map[string]bool

	// FailOn makes the named operation return the error. Keys are either an
	// operation name or "<op>:<id>" to fail only for one resource.
	FailOn map[string]error

	// Calls records every operation as "<op>:<arg>".
	Calls []string

	// Now stamps created images; defaults to time.Now.
	Now func() time.Time

	nextImage int
}

func NewFake() *FakeClient {
	return &FakeClient{
		Instances: map[string]Instance{},
		IPs:       map[string][]string{},
		Extents:   map[string]bool{},
		FailOn:    map[string]error{},
	}
}

// AddInstance registers an instance reachable at ip.
func (f *FakeClient) AddInstance(ip string, inst Instance) {
	f.Instances[inst.ID] = inst
	f.IPs[ip] = append(f.IPs[ip], inst.ID)
}

// AddImage registers an image and marks its extents as existing.
func (f *FakeClient) AddImage(img Image) {
	f.Images = append(f.Images, img)
	for _, e := range img.Extents {
		if e.ID != "" {
			f.Extents[e.ID] = true
		}
	}
}

// Mutations returns the recorded calls that change provider state.
func (f *FakeClient) Mutations() []string {
	var out []string
	for _, c := range f.Calls {
		op, _, _ := strings.Cut(c, ":")
		switch op {
		case OpTerminateInstance, OpCreateImage, OpDeregisterImage, OpDeleteExtent:
			out = append(out, c)
		}
	}
	return out
}

// Called reports whether op was invoked with arg.
func (f *FakeClient) Called(op, arg string) bool {
	for _, c := range f.Calls {
		if c == op+":"+arg {
			return true
		}
	}
	return false
}

func (f *FakeClient) record(op, arg string) error {
	f.Calls = append(f.Calls, op+":"+arg)
	if err, ok := f.FailOn[op+":"+arg]; ok {
		return err
	}
	if err, ok := f.FailOn[op]; ok {
		return err
	}
	return nil
}

func (f *FakeClient) FindInstancesByIP(_ context.Context, ip string) ([]Instance, error) {
	if err := f.record(OpFindInstancesByIP, ip); err != nil {
		return nil, err
	}
	var out []Instance
	for _, id := range f.IPs[ip] {
		if inst, ok := f.Instances[id]; ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *FakeClient) GetInstance(_ context.Context, id string) (Instance, error) {
	if err := f.record(OpGetInstance, id); err != nil {
		return Instance{}, err
	}
	inst, ok := f.Instances[id]
	if !ok {
		return Instance{}, &NotFoundError{Resource: "instance", Name: id}
	}
	return inst, nil
}

func (f *FakeClient) TerminateInstance(_ context.Context, id string) error {
	if err := f.record(OpTerminateInstance, id); err != nil {
		return err
	}
	inst, ok := f.Instances[id]
	if !ok {
		return &NotFoundError{Resource: "instance", Name: id}
	}
	inst.State = StateTerminated
	f.Instances[id] = inst
	return nil
}

func (f *FakeClient) CreateImage(_ context.Context, instanceID string, spec ImageSpec) (string, error) {
	if err := f.record(OpCreateImage, instanceID); err != nil {
		return "", err
	}
	if _, ok := f.Instances[instanceID]; !ok {
		return "", &NotFoundError{Resource: "instance", Name: instanceID}
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	f.nextImage++
	id := fmt.Sprintf("i-img-%d", f.nextImage)
	f.AddImage(Image{
		ID:           id,
		Name:         spec.Name,
		CreationDate: now().UTC().Format(CreationDateLayout),
		Tags:         append(Tags(nil), spec.Tags...),
		Extents:      []Extent{{Device: "/dev/sda1", ID: "snap-" + id}},
	})
	return id, nil
}

func (f *FakeClient) WaitImageExists(_ context.Context, imageID string, _ time.Duration) error {
	if err := f.record(OpWaitImageExists, imageID); err != nil {
		return err
	}
	if _, ok := f.image(imageID); !ok {
		return &NotFoundError{Resource: "image", Name: imageID}
	}
	return nil
}

func (f *FakeClient) WaitImageAvailable(_ context.Context, imageID string, _ time.Duration) error {
	if err := f.record(OpWaitImageAvailable, imageID); err != nil {
		return err
	}
	if _, ok := f.image(imageID); !ok {
		return &NotFoundError{Resource: "image", Name: imageID}
	}
	return nil
}

func (f *FakeClient) ListImages(_ context.Context, filter ImageFilter) ([]Image, error) {
	if err := f.record(OpListImages, strings.Join(filter.TagKeys, ",")); err != nil {
		return nil, err
	}
	var out []Image
	for _, img := range f.Images {
		if !matchesFilter(img, filter) {
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

// matchesFilter mimics the EC2 filter semantics: any of TagKeys, all of Tags.
func matchesFilter(img Image, filter ImageFilter) bool {
	if len(filter.TagKeys) > 0 {
		found := false
		for _, k := range filter.TagKeys {
			if _, ok := img.Tags.Get(k); ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, want := range filter.Tags {
		if v, ok := img.Tags.Get(want.Key); !ok || v != want.Value {
			return false
		}
	}
	return true
}

func (f *FakeClient) DeregisterImage(_ context.Context, imageID string) error {
	if err := f.record(OpDeregisterImage, imageID); err != nil {
		return err
	}
	for i, img := range f.Images {
		if img.ID == imageID {
			f.Images = append(f.Images[:i:i], f.Images[i+1:]...)
			return nil
		}
	}
	return &NotFoundError{Resource: "image", Name: imageID}
}

func (f *FakeClient) DeleteExtent(_ context.Context, extentID string) error {
	if err := f.record(OpDeleteExtent, extentID); err != nil {
		return err
	}
	if !f.Extents[extentID] {
		return &NotFoundError{Resource: "extent", Name: extentID}
	}
	delete(f.Extents, extentID)
	return nil
}

func (f *FakeClient) image(id string) (Image, bool) {
	for _, img := range f.Images {
		if img.ID == id {
			return img, true
		}
	}
	return Image{}, false
}
