package switchctl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voicebridge/corebridge/internal/model"
	"github.com/voicebridge/corebridge/internal/transfer"
)

const defaultRingTimeout = 20 * time.Second

// UUIDAudioStream instructs the switch to start forwarding uuid's media
// to the bridge's inbound audio WebSocket via
// "uuid_audio_stream <uuid> start <ws_url> <format>".
func (c *Client) UUIDAudioStream(ctx context.Context, uuid, wsURL, format string) error {
	_, err := c.Command(ctx, fmt.Sprintf("uuid_audio_stream %s start %s %s", uuid, wsURL, format))
	return err
}

// StopAudioStream stops a previously started stream on uuid.
func (c *Client) StopAudioStream(ctx context.Context, uuid string) error {
	_, err := c.Command(ctx, fmt.Sprintf("uuid_audio_stream %s stop", uuid))
	return err
}

// Originate implements transfer.Dialer: dials destination and blocks
// until the new leg answers or ringTimeout elapses (the originate
// call's call_timeout). The switch's reply carries the new leg's UUID
// as its second field once the channel is created.
func (c *Client) Originate(ctx context.Context, destination string, ringTimeout time.Duration) (string, error) {
	if ringTimeout <= 0 {
		ringTimeout = defaultRingTimeout
	}
	endpoint := fmt.Sprintf("{origination_timeout=%d,hangup_after_bridge=false}%s", int(ringTimeout/time.Second), destination)

	dialCtx, cancel := context.WithTimeout(ctx, ringTimeout+5*time.Second)
	defer cancel()

	reply, err := c.Command(dialCtx, fmt.Sprintf("originate %s &park()", endpoint))
	if err != nil {
		return "", fmt.Errorf("switchctl: originate %s: %w", destination, err)
	}
	fields := strings.Fields(reply)
	if len(fields) < 2 {
		return "", fmt.Errorf("switchctl: originate %s: reply missing leg uuid: %q", destination, reply)
	}
	return fields[1], nil
}

// Announce plays text as a whispered announcement heard only on legID.
func (c *Client) Announce(ctx context.Context, legID, text string) error {
	_, err := c.Command(ctx, fmt.Sprintf("uuid_broadcast %s tts://%s aleg", legID, text))
	return err
}

// Bridge joins aLegID and bLegID.
func (c *Client) Bridge(ctx context.Context, aLegID, bLegID string) error {
	_, err := c.Command(ctx, fmt.Sprintf("bridge %s %s", aLegID, bLegID))
	return err
}

// Hangup tears down legID with cause, an ESL/FreeSWITCH hangup cause
// name such as "NORMAL_CLEARING" or, for a destination that fails
// config validation, "UNALLOCATED_NUMBER".
func (c *Client) Hangup(ctx context.Context, legID, cause string) error {
	_, err := c.Command(ctx, fmt.Sprintf("uuid_kill %s %s", legID, cause))
	return err
}

// Probe implements transfer.PresenceProber via sofia_contact. A "-ERR"
// reply (not registered) is a normal negative presence result, not a
// transport failure, so Probe calls the unwrapped send rather than
// Command. Probe checks destination exactly as given: a ring group or
// queue is not expanded into its members, here or by any caller, so its
// presence is whatever sofia_contact reports for the group's own name.
func (c *Client) Probe(ctx context.Context, tenant model.TenantId, destination string) (bool, error) {
	reply, err := c.send(ctx, fmt.Sprintf("sofia_contact %s@%s", destination, tenant))
	if err != nil {
		return false, fmt.Errorf("switchctl: probe %s: %w", destination, err)
	}
	if strings.HasPrefix(reply, "-ERR") {
		return false, nil
	}
	return strings.Contains(reply, "sofia/"), nil
}

var (
	_ transfer.Dialer         = (*Client)(nil)
	_ transfer.PresenceProber = (*Client)(nil)
)
