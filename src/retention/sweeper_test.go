package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"instance-reaper/src/provider"
	"instance-reaper/src/retention"
	"instance-reaper/src/safety"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

const maxAge = 7 * 24 * time.Hour

var required = []string{"created_from_stopped", "creator"}

func query(zone string) retention.Query {
	return retention.Query{MaxAge: maxAge, RequiredKeys: required, ZoneKey: "AvailabilityZone", Zone: zone}
}

func image(id string, created time.Time, tags provider.Tags, extents ...provider.Extent) provider.Image {
	return provider.Image{
		ID:           id,
		Name:         "name-" + id,
		CreationDate: created.Format(provider.CreationDateLayout),
		Tags:         tags,
		Extents:      extents,
	}
}

func ours(zone string) provider.Tags {
	tags := provider.Tags{
		{Key: "created_from_stopped", Value: "2024-01-01 00:00:00 UTC"},
		{Key: "creator", Value: "ops"},
	}
	if zone != "" {
		tags = tags.With(provider.Tag{Key: "AvailabilityZone", Value: zone})
	}
	return tags
}

func ext(id string) provider.Extent { return provider.Extent{Device: "/dev/xvda", ID: id} }

func newSweeper(fake *provider.FakeClient, opts safety.Options) *retention.Sweeper {
	s := retention.New(fake, opts, nil, nil)
	s.SetClockForTest(func() time.Time { return now })
	return s
}

func TestSweep_OnlyImagesWithEveryRequiredKey(t *testing.T) {
	old := now.Add(-30 * 24 * time.Hour)
	fake := provider.NewFake()
	fake.AddImage(image("ami-ours", old, ours(""), ext("snap-1")))
	fake.AddImage(image("ami-partial", old, provider.Tags{{Key: "creator", Value: "ops"}}, ext("snap-2")))
	fake.AddImage(image("ami-foreign", old, provider.Tags{{Key: "team", Value: "web"}}, ext("snap-3")))
	fake.AddImage(image("ami-untagged", old, nil, ext("snap-4")))

	res, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), query(""))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Deregistered != 1 || !fake.Called(provider.OpDeregisterImage, "ami-ours") {
		t.Fatalf("expected only ami-ours deleted; res=%+v calls=%v", res, fake.Calls)
	}
	for _, id := range []string{"ami-partial", "ami-foreign", "ami-untagged"} {
		if fake.Called(provider.OpDeregisterImage, id) {
			t.Fatalf("sweep deleted out-of-scope image %s", id)
		}
	}
	for _, id := range []string{"snap-2", "snap-3", "snap-4"} {
		if fake.Called(provider.OpDeleteExtent, id) {
			t.Fatalf("sweep deleted out-of-scope extent %s", id)
		}
	}
}

func TestSweep_AgeBoundaryIsStrict(t *testing.T) {
	fake := provider.NewFake()
	fake.AddImage(image("ami-edge", now.Add(-maxAge), ours(""), ext("snap-edge")))
	fake.AddImage(image("ami-past", now.Add(-maxAge-time.Second), ours(""), ext("snap-past")))
	fake.AddImage(image("ami-new", now.Add(-time.Hour), ours(""), ext("snap-new")))

	res, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), query(""))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if fake.Called(provider.OpDeregisterImage, "ami-edge") {
		t.Fatalf("image exactly max-age old must be kept")
	}
	if !fake.Called(provider.OpDeregisterImage, "ami-past") {
		t.Fatalf("image one second past max-age must be deleted; calls=%v", fake.Calls)
	}
	if len(res.Expired) != 1 || res.Examined != 3 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSweep_Idempotent(t *testing.T) {
	old := now.Add(-30 * 24 * time.Hour)
	fake := provider.NewFake()
	fake.AddImage(image("ami-1", old, ours("z1"), ext("snap-1a"), ext("snap-1b")))
	fake.AddImage(image("ami-2", old, ours("z1"), ext("snap-2")))
	s := newSweeper(fake, safety.Options{})

	first, err := s.Sweep(context.Background(), query("z1"))
	if err != nil {
		t.Fatalf("first Sweep: %v", err)
	}
	if first.Deregistered != 2 || first.ExtentsDeleted != 3 {
		t.Fatalf("first sweep = %+v", first)
	}
	before := len(fake.Mutations())

	second, err := s.Sweep(context.Background(), query("z1"))
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if second.Deregistered != 0 || second.ExtentsDeleted != 0 || len(second.Expired) != 0 {
		t.Fatalf("second sweep deleted something: %+v", second)
	}
	if after := len(fake.Mutations()); after != before {
		t.Fatalf("second sweep issued %d mutations", after-before)
	}
}

func TestSweep_ZoneScope(t *testing.T) {
	old := now.Add(-30 * 24 * time.Hour)
	fake := provider.NewFake()
	fake.AddImage(image("ami-a", old, ours("us-east-1a"), ext("snap-a")))
	fake.AddImage(image("ami-b", old, ours("us-east-1b"), ext("snap-b")))
	fake.AddImage(image("ami-none", old, ours(""), ext("snap-none")))

	if _, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), query("us-east-1a")); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !fake.Called(provider.OpDeregisterImage, "ami-a") {
		t.Fatalf("expected ami-a deleted; calls=%v", fake.Calls)
	}
	if fake.Called(provider.OpDeregisterImage, "ami-b") || fake.Called(provider.OpDeregisterImage, "ami-none") {
		t.Fatalf("zone-scoped sweep touched another zone; calls=%v", fake.Calls)
	}
}

func TestSweep_UnparseableDateIsSkipped(t *testing.T) {
	fake := provider.NewFake()
	img := image("ami-bad", now, ours(""), ext("snap-bad"))
	img.CreationDate = "yesterday"
	fake.AddImage(img)
	fake.AddImage(image("ami-old", now.Add(-30*24*time.Hour), ours(""), ext("snap-old")))

	res, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), query(""))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if fake.Called(provider.OpDeregisterImage, "ami-bad") {
		t.Fatalf("image with unparseable date was deleted")
	}
	if !fake.Called(provider.OpDeregisterImage, "ami-old") {
		t.Fatalf("parse failure stopped the sweep; calls=%v", fake.Calls)
	}
	if res.Errors != 1 {
		t.Fatalf("errors = %d, want 1", res.Errors)
	}
}

func TestSweep_MissingExtentReferenceIsSkipped(t *testing.T) {
	fake := provider.NewFake()
	fake.AddImage(image("ami-1", now.Add(-30*24*time.Hour), ours(""),
		provider.Extent{Device: "/dev/sdb"}, ext("snap-ok")))

	res, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), query(""))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Deregistered != 1 || res.ExtentsDeleted != 1 || res.Errors != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSweep_ExtentsDeletedEvenWhenDeregisterFails(t *testing.T) {
	fake := provider.NewFake()
	fake.AddImage(image("ami-1", now.Add(-30*24*time.Hour), ours(""), ext("snap-1"), ext("snap-2")))
	fake.FailOn[provider.OpDeregisterImage] = errors.New("in use")

	res, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), query(""))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Deregistered != 0 || res.ExtentsDeleted != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSweep_ExtentFailureDoesNotBlockOthers(t *testing.T) {
	fake := provider.NewFake()
	fake.AddImage(image("ami-1", now.Add(-30*24*time.Hour), ours(""), ext("snap-1"), ext("snap-2"), ext("snap-3")))
	fake.FailOn[provider.OpDeleteExtent+":snap-2"] = errors.New("in use")

	res, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), query(""))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !fake.Called(provider.OpDeleteExtent, "snap-3") || res.ExtentsDeleted != 2 || res.Errors != 1 {
		t.Fatalf("result = %+v calls=%v", res, fake.Calls)
	}
}

func TestSweep_ListFailureIsReturned(t *testing.T) {
	fake := provider.NewFake()
	fake.FailOn[provider.OpListImages] = errors.New("throttled")
	if _, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), query("")); err == nil {
		t.Fatalf("expected listing error")
	}
}

func TestSweep_RequiresTagKeys(t *testing.T) {
	fake := provider.NewFake()
	fake.AddImage(image("ami-1", now.Add(-30*24*time.Hour), nil, ext("snap-1")))
	q := query("")
	q.RequiredKeys = nil
	if _, err := newSweeper(fake, safety.Options{}).Sweep(context.Background(), q); err == nil {
		t.Fatalf("expected error for unscoped sweep")
	}
	if len(fake.Calls) != 0 {
		t.Fatalf("unscoped sweep reached the provider: %v", fake.Calls)
	}
}

func TestSweep_DryRunDeletesNothing(t *testing.T) {
	fake := provider.NewFake()
	fake.AddImage(image("ami-1", now.Add(-30*24*time.Hour), ours(""), ext("snap-1")))

	res, err := newSweeper(fake, safety.Options{DryRun: true}).Sweep(context.Background(), query(""))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(res.Expired) != 1 || res.Expired[0] != "ami-1" {
		t.Fatalf("expired = %v, want [ami-1]", res.Expired)
	}
	if m := fake.Mutations(); len(m) != 0 {
		t.Fatalf("dry-run issued mutations: %v", m)
	}
}
