package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var rpcClient = resty.New().SetTimeout(5 * time.Second)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type blockHeader struct {
	Timestamp string `json:"timestamp"`
}

// fetchBlockTimestamp resolves a block number to its timestamp via a plain
// eth_getBlockByNumber RPC call. Used as the fallback path when a fill
// arrives for a block the subscriber hasn't already cached.
func fetchBlockTimestamp(ctx context.Context, rpcURL string, blockNumber uint64) (time.Time, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_getBlockByNumber",
		Params:  []interface{}{fmt.Sprintf("0x%x", blockNumber), false},
	}

	var out rpcResponse
	resp, err := rpcClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(rpcURL)
	if err != nil {
		return time.Time{}, fmt.Errorf("rpc request: %w", err)
	}
	if resp.IsError() {
		return time.Time{}, fmt.Errorf("rpc status %d", resp.StatusCode())
	}
	if out.Error != nil {
		return time.Time{}, fmt.Errorf("rpc error: %s", out.Error.Message)
	}

	var header blockHeader
	if err := json.Unmarshal(out.Result, &header); err != nil {
		return time.Time{}, fmt.Errorf("decode block header: %w", err)
	}

	ts, err := strconv.ParseInt(strings.TrimPrefix(header.Timestamp, "0x"), 16, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse block timestamp: %w", err)
	}

	return time.Unix(ts, 0).UTC(), nil
}

// parseUSDCMicros converts a "whole.frac6" decimal string (as produced by
// decode.DecodeFill's USDCAmount field) back into its raw integer micros, so
// the whale threshold can be checked against the exact value it was derived
// from rather than re-parsing a lossy float.
func parseUSDCMicros(decimalStr string) (*big.Int, bool) {
	whole, frac, found := strings.Cut(decimalStr, ".")
	if !found {
		frac = "000000"
	}
	for len(frac) < 6 {
		frac += "0"
	}
	frac = frac[:6]

	combined := whole + frac
	v, ok := new(big.Int).SetString(combined, 10)
	return v, ok
}
