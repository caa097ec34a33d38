package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the thermostat service over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) ListThermostats(ctx context.Context) (ListThermostatsResponse, error) {
	var resp ListThermostatsResponse
	err := c.invoke(ctx, MethodListThermostats, ListThermostatsRequest{}, &resp)
	return resp, err
}

func (c *Client) SetThermostat(ctx context.Context, req SetThermostatRequest) (SetThermostatResponse, error) {
	var resp SetThermostatResponse
	err := c.invoke(ctx, MethodSetThermostat, req, &resp)
	return resp, err
}

func (c *Client) AddAccount(ctx context.Context, req AddAccountRequest) (AddAccountResponse, error) {
	var resp AddAccountResponse
	err := c.invoke(ctx, MethodAddAccount, req, &resp)
	return resp, err
}

func (c *Client) RemoveAccount(ctx context.Context, accountID string) (RemoveAccountResponse, error) {
	var resp RemoveAccountResponse
	err := c.invoke(ctx, MethodRemoveAccount, RemoveAccountRequest{AccountID: accountID}, &resp)
	return resp, err
}

func (c *Client) RefreshThermostat(ctx context.Context, device string) (RefreshThermostatResponse, error) {
	var resp RefreshThermostatResponse
	err := c.invoke(ctx, MethodRefreshThermostat, RefreshThermostatRequest{Device: device}, &resp)
	return resp, err
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return err
	}
	return fromStruct(out, resp)
}
