package relay

import (
	"encoding/json"
	"fmt"
)

type rpcRequest struct {
	JsonRpc string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JsonRpc string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError relay 返回的 JSON-RPC 错误
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("relay rpc error %d: %s", e.Code, e.Message)
}

// HTTPError 非 2xx 且响应体不是 JSON-RPC 错误
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("relay http status %d: %s", e.StatusCode, e.Body)
}

// RpcContext 响应中的上下文槽位
type RpcContext struct {
	Slot uint64 `json:"slot"`
}

// InflightStatus getInflightBundleStatuses 的单条结果
type InflightStatus struct {
	BundleID   string  `json:"bundle_id" validate:"required"`
	Status     string  `json:"status" validate:"oneof=Invalid Pending Landed Failed"`
	LandedSlot *uint64 `json:"landed_slot"`
}

// InflightStatusesResult value 中的元素可能为 null
type InflightStatusesResult struct {
	Context RpcContext        `json:"context"`
	Value   []*InflightStatus `json:"value"`
}

// BundleStatusDetail getBundleStatuses 的单条结果
type BundleStatusDetail struct {
	BundleID           string          `json:"bundle_id" validate:"required"`
	Transactions       []string        `json:"transactions"`
	Slot               uint64          `json:"slot"`
	ConfirmationStatus string          `json:"confirmation_status" validate:"omitempty,oneof=processed confirmed finalized"`
	Err                json.RawMessage `json:"err"`
}

// Failed err 字段为 {"Ok":null} 表示成功，其余视为失败
func (d *BundleStatusDetail) Failed() bool {
	if len(d.Err) == 0 || string(d.Err) == "null" {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(d.Err, &probe); err != nil {
		return true
	}
	_, ok := probe["Ok"]
	return !ok
}

type BundleStatusesResult struct {
	Context RpcContext            `json:"context"`
	Value   []*BundleStatusDetail `json:"value"`
}

// TipFloor bundles/tip_floor 返回的统计，单位 SOL
type TipFloor struct {
	Time                        string  `json:"time"`
	LandedTips25thPercentile    float64 `json:"landed_tips_25th_percentile" validate:"gte=0"`
	LandedTips50thPercentile    float64 `json:"landed_tips_50th_percentile" validate:"gte=0"`
	LandedTips75thPercentile    float64 `json:"landed_tips_75th_percentile" validate:"gte=0"`
	LandedTips95thPercentile    float64 `json:"landed_tips_95th_percentile" validate:"gte=0"`
	LandedTips99thPercentile    float64 `json:"landed_tips_99th_percentile" validate:"gte=0"`
	EmaLandedTips50thPercentile float64 `json:"ema_landed_tips_50th_percentile" validate:"gte=0"`
}

// Percentile 取指定分位的 tip（SOL），不支持的分位返回 false
func (t *TipFloor) Percentile(p int) (float64, bool) {
	switch p {
	case 25:
		return t.LandedTips25thPercentile, true
	case 50:
		return t.LandedTips50thPercentile, true
	case 75:
		return t.LandedTips75thPercentile, true
	case 95:
		return t.LandedTips95thPercentile, true
	case 99:
		return t.LandedTips99thPercentile, true
	}
	return 0, false
}
