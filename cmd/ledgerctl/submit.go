package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"EscrowLedger/internal/command"
	"EscrowLedger/internal/game"
	"EscrowLedger/internal/identity"
	"EscrowLedger/internal/server"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// SubmitCmd sends one command to the ledger.
func SubmitCmd() *cobra.Command {
	names := make([]string, 0, len(command.Types()))
	for _, ct := range command.Types() {
		names = append(names, ct.String())
	}

	cmd := &cobra.Command{
		Use:   "submit <command-type>",
		Short: "Submit a command",
		Long:  "Submit a command. Known types: " + strings.Join(names, ", "),
		Args:  cobra.ExactArgs(1),
		RunE:  submit,
	}
	cmd.Flags().StringP("caller", "c", "", "caller address")
	cmd.MarkFlagRequired("caller")
	cmd.Flags().StringP("value", "v", "0", "value attached to the call")
	cmd.Flags().Int64P("nonce", "n", 0, "per-caller nonce (0 = unordered)")
	cmd.Flags().String("request-id", "", "idempotency key (default: random)")
	cmd.Flags().StringP("payload", "p", "{}", "JSON object with the command arguments")
	cmd.Flags().StringArrayP("set", "s", nil, "argument as key=value, repeatable")
	return cmd
}

func submit(cmd *cobra.Command, args []string) error {
	caller, _ := cmd.Flags().GetString("caller")
	value, _ := cmd.Flags().GetString("value")
	nonce, _ := cmd.Flags().GetInt64("nonce")
	requestID, _ := cmd.Flags().GetString("request-id")
	payload, _ := cmd.Flags().GetString("payload")
	sets, _ := cmd.Flags().GetStringArray("set")

	p, err := identity.Parse(caller)
	if err != nil {
		return err
	}
	units, err := parseAmount(value, decimalsFlag(cmd))
	if err != nil {
		return err
	}
	id := uuid.New()
	if requestID != "" {
		if id, err = uuid.Parse(requestID); err != nil {
			return fmt.Errorf("request-id: %w", err)
		}
	}

	data, err := buildPayload(payload, sets, command.Header{
		RequestID:   id,
		Caller:      p,
		Value:       units,
		Nonce:       nonce,
		TimestampUs: time.Now().UnixMicro(),
	})
	if err != nil {
		return err
	}
	// Reject locally what the ledger would reject as malformed.
	if _, err := command.DecodeNamed(args[0], data); err != nil {
		return err
	}

	return withClient(cmd, func(ctx context.Context, client *server.LedgerClient) error {
		resp, err := client.Submit(ctx, &server.SubmitRequest{CommandType: args[0], Payload: data})
		if err != nil {
			if f, ok := server.FailureFromStatus(err); ok {
				return fmt.Errorf("rejected (%s): %s", f.Code, f.Reason)
			}
			return err
		}
		return printJSON(resp)
	})
}

// buildPayload merges the JSON arguments, key=value overrides and the header
// into one command object. Values that parse as JSON are taken as JSON;
// anything else is a string.
func buildPayload(payload string, sets []string, h command.Header) ([]byte, error) {
	fields := map[string]any{}
	if err := decodeJSON([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}

	for _, kv := range sets {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("set %q: want key=value", kv)
		}
		var v any
		if err := decodeJSON([]byte(raw), &v); err != nil {
			v = raw
		}
		fields[key] = v
	}

	header, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	var headerFields map[string]any
	if err := decodeJSON(header, &headerFields); err != nil {
		return nil, err
	}
	for k, v := range headerFields {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// decodeJSON keeps numbers as json.Number so int64 amounts survive the round trip.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

// SecretCmd prints the preimage and commitment of a game secret.
func SecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret <text>",
		Short: "Encode a game secret and print its commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preimage, err := game.SecretFromString(args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"secret":      preimage.Hex(),
				"secret_hash": game.Keccak256(preimage).Hex(),
			})
		},
	}
}
