package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls plantcare.v1.PlantCare.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) GetFleet(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetFleet", &emptypb.Empty{})
}

func (c *Client) GetSummary(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetSummary", &emptypb.Empty{})
}

func (c *Client) GetPlant(ctx context.Context, plantID string) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetPlant", wrapperspb.String(plantID))
}

func (c *Client) GetLatest(ctx context.Context, deviceID string) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetLatest", wrapperspb.String(deviceID))
}

// SendCommand targets a plant; use SendDeviceCommand to address a device.
func (c *Client) SendCommand(ctx context.Context, plantID, action string) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"plant_id": plantID, "action": action})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "SendCommand", req)
}

func (c *Client) SendDeviceCommand(ctx context.Context, deviceID, action string) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"device_id": deviceID, "action": action})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "SendCommand", req)
}

func (c *Client) ListCommands(ctx context.Context, plantID string, limit int) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"plant_id": plantID, "limit": limit})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "ListCommands", req)
}

func (c *Client) invoke(ctx context.Context, method string, in any) (*structpb.Struct, error) {
	out := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}
