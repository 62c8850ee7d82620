package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2Client implements Client on top of the AWS EC2 API. Images are AMIs and
// their extents are EBS snapshots.
type EC2Client struct {
	c *ec2.Client
}

// ConnectEC2 loads the default AWS configuration. An empty region falls back
// to the environment/shared config.
func ConnectEC2(ctx context.Context, region string) (*EC2Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ec2: load aws config: %w", err)
	}
	return &EC2Client{c: ec2.NewFromConfig(cfg)}, nil
}

func (e *EC2Client) FindInstancesByIP(ctx context.Context, ip string) ([]Instance, error) {
	out, err := e.c.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("ip-address"), Values: []string{ip}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ec2: describe instances by ip %s: %w", ip, err)
	}
	return instancesFromReservations(out.Reservations), nil
}

func (e *EC2Client) GetInstance(ctx context.Context, id string) (Instance, error) {
	out, err := e.c.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return Instance{}, fmt.Errorf("ec2: describe instance %s: %w", id, err)
	}
	insts := instancesFromReservations(out.Reservations)
	if len(insts) == 0 {
		return Instance{}, &NotFoundError{Resource: "instance", Name: id}
	}
	return insts[0], nil
}

func (e *EC2Client) TerminateInstance(ctx context.Context, id string) error {
	_, err := e.c.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return fmt.Errorf("ec2: terminate %s: %w", id, err)
	}
	return nil
}

func (e *EC2Client) CreateImage(ctx context.Context, instanceID string, spec ImageSpec) (string, error) {
	tags := toEC2Tags(spec.Tags)
	out, err := e.c.CreateImage(ctx, &ec2.CreateImageInput{
		InstanceId:  aws.String(instanceID),
		Name:        aws.String(spec.Name),
		Description: aws.String(spec.Description),
		TagSpecifications: []ec2types.TagSpecification{
			{ResourceType: ec2types.ResourceTypeImage, Tags: tags},
			{ResourceType: ec2types.ResourceTypeSnapshot, Tags: tags},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ec2: create image from %s: %w", instanceID, err)
	}
	return aws.ToString(out.ImageId), nil
}

func (e *EC2Client) WaitImageExists(ctx context.Context, imageID string, maxWait time.Duration) error {
	w := ec2.NewImageExistsWaiter(e.c)
	if err := w.Wait(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}}, maxWait); err != nil {
		return fmt.Errorf("ec2: wait image %s exists: %w", imageID, err)
	}
	return nil
}

func (e *EC2Client) WaitImageAvailable(ctx context.Context, imageID string, maxWait time.Duration) error {
	w := ec2.NewImageAvailableWaiter(e.c)
	if err := w.Wait(ctx, &ec2.DescribeImagesInput{ImageIds: []string{imageID}}, maxWait); err != nil {
		return fmt.Errorf("ec2: wait image %s available: %w", imageID, err)
	}
	return nil
}

func (e *EC2Client) ListImages(ctx context.Context, filter ImageFilter) ([]Image, error) {
	var filters []ec2types.Filter
	if len(filter.TagKeys) > 0 {
		filters = append(filters, ec2types.Filter{Name: aws.String("tag-key"), Values: filter.TagKeys})
	}
	for _, t := range filter.Tags {
		filters = append(filters, ec2types.Filter{Name: aws.String("tag:" + t.Key), Values: []string{t.Value}})
	}
	in := &ec2.DescribeImagesInput{Owners: []string{"self"}, Filters: filters}

	var out []Image
	p := ec2.NewDescribeImagesPaginator(e.c, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ec2: describe images: %w", err)
		}
		for _, img := range page.Images {
			out = append(out, imageFromEC2(img))
		}
	}
	return out, nil
}

func (e *EC2Client) DeregisterImage(ctx context.Context, imageID string) error {
	if _, err := e.c.DeregisterImage(ctx, &ec2.DeregisterImageInput{ImageId: aws.String(imageID)}); err != nil {
		return fmt.Errorf("ec2: deregister %s: %w", imageID, err)
	}
	return nil
}

func (e *EC2Client) DeleteExtent(ctx context.Context, extentID string) error {
	if _, err := e.c.DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{SnapshotId: aws.String(extentID)}); err != nil {
		return fmt.Errorf("ec2: delete snapshot %s: %w", extentID, err)
	}
	return nil
}

func instancesFromReservations(rs []ec2types.Reservation) []Instance {
	var out []Instance
	for _, r := range rs {
		for _, i := range r.Instances {
			inst := Instance{
				ID:    aws.ToString(i.InstanceId),
				Name:  ec2TagValue(i.Tags, "Name"),
				State: StateUnknown,
			}
			if i.State != nil && i.State.Name != "" {
				inst.State = State(i.State.Name)
			}
			if i.Placement != nil {
				inst.Zone = aws.ToString(i.Placement.AvailabilityZone)
			}
			out = append(out, inst)
		}
	}
	return out
}

func imageFromEC2(img ec2types.Image) Image {
	out := Image{
		ID:           aws.ToString(img.ImageId),
		Name:         aws.ToString(img.Name),
		CreationDate: aws.ToString(img.CreationDate),
	}
	for _, t := range img.Tags {
		out.Tags = append(out.Tags, Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	for _, bdm := range img.BlockDeviceMappings {
		ext := Extent{Device: aws.ToString(bdm.DeviceName)}
		if bdm.Ebs != nil {
			ext.ID = aws.ToString(bdm.Ebs.SnapshotId)
		}
		out.Extents = append(out.Extents, ext)
	}
	return out
}

func toEC2Tags(tags Tags) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, ec2types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return out
}

func ec2TagValue(tags []ec2types.Tag, key string) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == key {
			return aws.ToString(t.Value)
		}
	}
	return ""
}
