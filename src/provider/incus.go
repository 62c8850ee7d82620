package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	incuscli "github.com/lxc/incus/client"
	"github.com/lxc/incus/shared/api"
)

// imagePollInterval is how often the Incus waiters re-read an image.
const imagePollInterval = 2 * time.Second

// IncusClient wraps the official Incus Go client. Instance IDs are instance
// names, image IDs are fingerprints, the zone is the cluster member holding
// the instance, and image tags are stored as image properties.
type IncusClient struct {
	c incuscli.InstanceServer
}

// ConnectIncus connects to the local Incus via the UNIX socket when addr is
// empty or a socket path, or to a remote server when addr is an https URL.
func ConnectIncus(addr string) (*IncusClient, error) {
	var (
		c   incuscli.InstanceServer
		err error
	)
	if strings.HasPrefix(addr, "https://") {
		c, err = incuscli.ConnectIncus(addr, nil)
	} else {
		c, err = incuscli.ConnectIncusUnix(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("incus: connect: %w", err)
	}
	return &IncusClient{c: c}, nil
}

func (r *IncusClient) FindInstancesByIP(_ context.Context, ip string) ([]Instance, error) {
	insts, err := r.c.GetInstancesFull(api.InstanceTypeAny)
	if err != nil {
		return nil, fmt.Errorf("incus: list instances: %w", err)
	}
	var out []Instance
	for _, inst := range insts {
		if inst.State == nil {
			continue
		}
		if hasAddress(inst.State.Network, ip) {
			out = append(out, instanceFromIncus(inst.Instance))
		}
	}
	return out, nil
}

func hasAddress(nets map[string]api.InstanceStateNetwork, ip string) bool {
	for _, n := range nets {
		for _, a := range n.Addresses {
			if a.Address == ip {
				return true
			}
		}
	}
	return false
}

func (r *IncusClient) GetInstance(_ context.Context, id string) (Instance, error) {
	inst, _, err := r.c.GetInstance(id)
	if err != nil {
		if api.StatusErrorCheck(err, http.StatusNotFound) {
			return Instance{}, &NotFoundError{Resource: "instance", Name: id}
		}
		return Instance{}, fmt.Errorf("incus: get instance %s: %w", id, err)
	}
	return instanceFromIncus(*inst), nil
}

func instanceFromIncus(inst api.Instance) Instance {
	state := State(strings.ToLower(inst.Status))
	if state == "" {
		state = StateUnknown
	}
	return Instance{ID: inst.Name, Name: inst.Name, State: state, Zone: inst.Location}
}

func (r *IncusClient) TerminateInstance(_ context.Context, id string) error {
	op, err := r.c.DeleteInstance(id)
	if err != nil {
		return fmt.Errorf("incus: delete instance %s: %w", id, err)
	}
	if err := op.Wait(); err != nil {
		return fmt.Errorf("incus: delete instance %s: %w", id, err)
	}
	return nil
}

func (r *IncusClient) CreateImage(_ context.Context, instanceID string, spec ImageSpec) (string, error) {
	props := map[string]string{
		"name":        spec.Name,
		"description": spec.Description,
	}
	for _, t := range spec.Tags {
		props[t.Key] = t.Value
	}
	req := api.ImagesPost{
		ImagePut: api.ImagePut{Properties: props},
		Source:   &api.ImagesPostSource{Type: "instance", Name: instanceID},
	}
	op, err := r.c.CreateImage(req, nil)
	if err != nil {
		return "", fmt.Errorf("incus: publish %s: %w", instanceID, err)
	}
	if err := op.Wait(); err != nil {
		return "", fmt.Errorf("incus: publish %s: %w", instanceID, err)
	}
	fp, _ := op.Get().Metadata["fingerprint"].(string)
	if fp == "" {
		return "", fmt.Errorf("incus: publish %s: no fingerprint in operation metadata", instanceID)
	}
	return fp, nil
}

func (r *IncusClient) WaitImageExists(ctx context.Context, imageID string, maxWait time.Duration) error {
	return r.pollImage(ctx, imageID, maxWait, func(*api.Image) bool { return true })
}

// WaitImageAvailable waits until the image has its data attached.
func (r *IncusClient) WaitImageAvailable(ctx context.Context, imageID string, maxWait time.Duration) error {
	return r.pollImage(ctx, imageID, maxWait, func(img *api.Image) bool { return img.Size > 0 })
}

func (r *IncusClient) pollImage(ctx context.Context, fp string, maxWait time.Duration, ready func(*api.Image) bool) error {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	t := time.NewTicker(imagePollInterval)
	defer t.Stop()
	for {
		img, _, err := r.c.GetImage(fp)
		switch {
		case err == nil && ready(img):
			return nil
		case err != nil && !api.StatusErrorCheck(err, http.StatusNotFound):
			return fmt.Errorf("incus: get image %s: %w", fp, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("incus: wait image %s: %w", fp, ctx.Err())
		case <-t.C:
		}
	}
}

func (r *IncusClient) ListImages(_ context.Context, filter ImageFilter) ([]Image, error) {
	imgs, err := r.c.GetImages()
	if err != nil {
		return nil, fmt.Errorf("incus: list images: %w", err)
	}
	pools, err := r.c.GetStoragePoolNames()
	if err != nil {
		return nil, fmt.Errorf("incus: list storage pools: %w", err)
	}
	var out []Image
	for _, img := range imgs {
		conv := r.imageFromIncus(img, pools)
		if matchesFilter(conv, filter) {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (r *IncusClient) imageFromIncus(img api.Image, pools []string) Image {
	out := Image{
		ID:           img.Fingerprint,
		Name:         img.Properties["name"],
		CreationDate: img.CreatedAt.UTC().Format(CreationDateLayout),
	}
	keys := make([]string, 0, len(img.Properties))
	for k := range img.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Tags = append(out.Tags, Tag{Key: k, Value: img.Properties[k]})
	}
	for _, pool := range pools {
		if _, _, err := r.c.GetStoragePoolVolume(pool, "image", img.Fingerprint); err == nil {
			out.Extents = append(out.Extents, Extent{Device: pool, ID: pool + "/image/" + img.Fingerprint})
		}
	}
	return out
}

func (r *IncusClient) DeregisterImage(_ context.Context, imageID string) error {
	op, err := r.c.DeleteImage(imageID)
	if err != nil {
		return fmt.Errorf("incus: delete image %s: %w", imageID, err)
	}
	if err := op.Wait(); err != nil {
		return fmt.Errorf("incus: delete image %s: %w", imageID, err)
	}
	return nil
}

// DeleteExtent removes a "<pool>/<type>/<name>" storage volume. Incus drops
// image volumes together with the image, so a missing volume counts as done.
func (r *IncusClient) DeleteExtent(_ context.Context, extentID string) error {
	parts := strings.SplitN(extentID, "/", 3)
	if len(parts) != 3 {
		return fmt.Errorf("incus: malformed extent id %q", extentID)
	}
	err := r.c.DeleteStoragePoolVolume(parts[0], parts[1], parts[2])
	if err != nil && !api.StatusErrorCheck(err, http.StatusNotFound) {
		return fmt.Errorf("incus: delete volume %s: %w", extentID, err)
	}
	return nil
}
