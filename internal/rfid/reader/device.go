package reader

import (
	"context"

	"github.com/BearBump/TagGuard/internal/rfid/command"
)

// exec runs one command and returns its data. A non-success status becomes a
// *DeviceError carrying the raw frame.
func (c *Conn) exec(ctx context.Context, cmd command.Command) ([]byte, error) {
	resp, err := c.SendCommand(ctx, cmd, c.opts.MaxRetries)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &DeviceError{
			Command:     cmd.Code,
			Status:      resp.Status,
			Description: command.Describe(resp.Status),
			Raw:         resp.Raw,
		}
	}
	return resp.Data, nil
}

func (c *Conn) GetReaderInfo(ctx context.Context) (command.DeviceInfo, error) {
	data, err := c.exec(ctx, command.GetDeviceInfo(c.opts.Address))
	if err != nil {
		return command.DeviceInfo{}, err
	}
	return command.DecodeDeviceInfo(data)
}

func (c *Conn) SetPower(ctx context.Context, dbm int) error {
	cmd, err := command.SetPower(c.opts.Address, dbm)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, cmd)
	return err
}

func (c *Conn) GetPower(ctx context.Context) (int, error) {
	data, err := c.exec(ctx, command.GetPower(c.opts.Address))
	if err != nil {
		return 0, err
	}
	return command.DecodePower(data)
}

func (c *Conn) GetNetworkConfig(ctx context.Context) (command.NetworkConfig, error) {
	data, err := c.exec(ctx, command.GetNetwork(c.opts.Address))
	if err != nil {
		return command.NetworkConfig{}, err
	}
	return command.DecodeNetwork(data)
}

// SetNetworkConfig takes effect after the device restarts its interface; the
// current link is usually lost shortly after success.
func (c *Conn) SetNetworkConfig(ctx context.Context, n command.NetworkConfig) error {
	cmd, err := command.SetNetwork(c.opts.Address, n)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, cmd)
	return err
}

func (c *Conn) GetGPIO(ctx context.Context) (command.GPIOState, error) {
	data, err := c.exec(ctx, command.GetGPIO(c.opts.Address))
	if err != nil {
		return command.GPIOState{}, err
	}
	return command.DecodeGPIO(data)
}

func (c *Conn) SetGPIO(ctx context.Context, pin int, high bool) error {
	cmd, err := command.SetGPIO(c.opts.Address, pin, high)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, cmd)
	return err
}

func (c *Conn) ControlRelay(ctx context.Context, relay int, closed bool, holdSeconds int) error {
	cmd, err := command.RelayControl(c.opts.Address, relay, closed, holdSeconds)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, cmd)
	return err
}

func (c *Conn) GetGateMode(ctx context.Context) (command.GateMode, error) {
	data, err := c.exec(ctx, command.GetGateMode(c.opts.Address))
	if err != nil {
		return 0, err
	}
	return command.DecodeGateMode(data)
}

func (c *Conn) SetGateMode(ctx context.Context, m command.GateMode) error {
	_, err := c.exec(ctx, command.SetGateMode(c.opts.Address, m))
	return err
}

func (c *Conn) GetQueryParams(ctx context.Context) (command.QueryParams, error) {
	data, err := c.exec(ctx, command.GetQueryParams(c.opts.Address))
	if err != nil {
		return command.QueryParams{}, err
	}
	return command.DecodeQueryParams(data)
}

func (c *Conn) SetQueryParams(ctx context.Context, p command.QueryParams) error {
	cmd, err := command.SetQueryParams(c.opts.Address, p)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx, cmd)
	return err
}

func (c *Conn) GetAllParams(ctx context.Context) (command.AllParams, error) {
	data, err := c.exec(ctx, command.GetAllParams(c.opts.Address))
	if err != nil {
		return command.AllParams{}, err
	}
	return command.DecodeAllParams(data)
}

func (c *Conn) SetAllParams(ctx context.Context, p command.AllParams) error {
	_, err := c.exec(ctx, command.SetAllParams(c.opts.Address, p))
	return err
}
