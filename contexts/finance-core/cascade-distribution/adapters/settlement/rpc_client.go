package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"splitflow/contexts/finance-core/cascade-distribution/domain/entities"
	domainerrors "splitflow/contexts/finance-core/cascade-distribution/domain/errors"
	"splitflow/contexts/finance-core/cascade-distribution/ports"
)

const (
	rpcCodeContract      = -32001
	rpcCodeBadSequence   = -32002
	rpcCodeBadSignature  = -32003
	rpcCodeUnknownTx     = -32004
	maxRPCResponseBytes  = 1 << 20
	defaultRPCTimeout    = 15 * time.Second
	jsonRPCVersion       = "2.0"
	rpcMethodSendDistrib = "sendDistribute"
)

var contractCodePattern = regexp.MustCompile(`Error\(Contract, #(\d+)\)`)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type balanceParams struct {
	Identifier string `json:"identifier"`
	Asset      string `json:"asset"`
}

type submissionParams struct {
	Source          string `json:"source"`
	Sequence        int64  `json:"sequence"`
	Identifier      string `json:"identifier"`
	Asset           string `json:"asset"`
	MinDistribution int64  `json:"min_distribution"`
	Signature       []byte `json:"signature"`
}

type transactionResult struct {
	Hash         string `json:"hash"`
	Status       string `json:"status"`
	ContractCode int    `json:"contract_code"`
	ResultError  string `json:"result_error"`
}

// RPCClient speaks JSON-RPC 2.0 to a remote settlement gateway.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64
}

func NewRPCClient(endpoint string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &RPCClient{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *RPCClient) AccountSequence(ctx context.Context, account string) (int64, error) {
	var sequence int64
	err := c.call(ctx, "getAccountSequence", map[string]string{"account": account}, &sequence)
	return sequence, err
}

func (c *RPCClient) SubmitDistribute(ctx context.Context, submission ports.DistributeSubmission) (string, error) {
	var result struct {
		Hash string `json:"hash"`
	}
	err := c.call(ctx, rpcMethodSendDistrib, submissionParams{
		Source:          submission.Source,
		Sequence:        submission.Sequence,
		Identifier:      submission.Identifier,
		Asset:           submission.Asset,
		MinDistribution: submission.MinDistribution,
		Signature:       submission.Signature,
	}, &result)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(result.Hash) == "" {
		return "", fmt.Errorf("%s returned an empty hash", rpcMethodSendDistrib)
	}
	return result.Hash, nil
}

func (c *RPCClient) GetTransaction(ctx context.Context, txHash string) (entities.TxStatus, error) {
	var result transactionResult
	if err := c.call(ctx, "getTransaction", map[string]string{"hash": txHash}, &result); err != nil {
		return entities.TxStatus{Hash: txHash}, err
	}
	status := entities.TxStatus{
		Hash:         txHash,
		State:        entities.TxState(strings.ToUpper(strings.TrimSpace(result.Status))),
		ContractCode: result.ContractCode,
		ResultError:  result.ResultError,
	}
	if status.State == entities.TxStateFailed && status.ContractCode == 0 {
		status.ContractCode = parseContractCode(result.ResultError)
	}
	return status, nil
}

func (c *RPCClient) Pool(ctx context.Context, identifier string, asset string) (int64, error) {
	return c.balance(ctx, "getPool", identifier, asset)
}

func (c *RPCClient) Unclaimed(ctx context.Context, identifier string, asset string) (int64, error) {
	return c.balance(ctx, "getUnclaimed", identifier, asset)
}

func (c *RPCClient) TotalReceived(ctx context.Context, identifier string, asset string) (int64, error) {
	return c.balance(ctx, "getTotalReceived", identifier, asset)
}

func (c *RPCClient) TotalForwarded(ctx context.Context, identifier string, asset string) (int64, error) {
	return c.balance(ctx, "getTotalForwarded", identifier, asset)
}

// balance accepts either a JSON number or a decimal string of smallest units.
func (c *RPCClient) balance(ctx context.Context, method string, identifier string, asset string) (int64, error) {
	var raw json.RawMessage
	if err := c.call(ctx, method, balanceParams{Identifier: identifier, Asset: asset}, &raw); err != nil {
		return 0, err
	}
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: decode balance %q: %w", method, text, err)
	}
	return value, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected http status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s: %w", method, decoded.Error.classify())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (e *rpcError) classify() error {
	switch e.Code {
	case rpcCodeContract:
		var data struct {
			ContractCode int `json:"contract_code"`
		}
		if len(e.Data) > 0 && json.Unmarshal(e.Data, &data) == nil && data.ContractCode > 0 {
			return domainerrors.ContractErrorFromCode(data.ContractCode)
		}
		if code := parseContractCode(e.Message); code > 0 {
			return domainerrors.ContractErrorFromCode(code)
		}
		return fmt.Errorf("contract error: %s", e.Message)
	case rpcCodeBadSequence:
		return fmt.Errorf("%w: %s", domainerrors.ErrBadSequence, e.Message)
	case rpcCodeBadSignature:
		return fmt.Errorf("%w: %s", domainerrors.ErrInvalidSignature, e.Message)
	case rpcCodeUnknownTx:
		return fmt.Errorf("%w: %s", domainerrors.ErrUnknownTransaction, e.Message)
	default:
		return fmt.Errorf("rpc error %d: %s", e.Code, e.Message)
	}
}

// parseContractCode extracts N from an "Error(Contract, #N)" diagnostic.
func parseContractCode(message string) int {
	match := contractCodePattern.FindStringSubmatch(message)
	if len(match) != 2 {
		return 0
	}
	code, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return code
}

var _ ports.SettlementGateway = (*RPCClient)(nil)
