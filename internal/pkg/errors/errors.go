package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Code 错误码
type Code string

// Stage 标识出错的流水线阶段，调用方据此决定在哪一层重试
type Stage string

const (
	StageUnknown      Stage = "unknown"
	StageConfig       Stage = "config"
	StageResolve      Stage = "resolve"
	StageTip          Stage = "tip"
	StagePacking      Stage = "packing"
	StageAssembly     Stage = "assembly"
	StageSubmission   Stage = "submission"
	StageConfirmation Stage = "confirmation"
)

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeInvalidConfig      Code = "INVALID_CONFIG"
	CodeUpstream           Code = "UPSTREAM_FAILURE"
	CodeLookupTable        Code = "LOOKUP_TABLE_FAILURE"
	CodeMalformedOperation Code = "MALFORMED_OPERATION"
	CodeCapacity           Code = "OPERATION_EXCEEDS_CAPACITY"
	CodeBundleTooLarge     Code = "BUNDLE_TOO_LARGE"
	CodeBlockhash          Code = "BLOCKHASH_UNAVAILABLE"
	CodeEncoderDrift       Code = "ENCODER_DRIFT"
	CodeSubmission         Code = "SUBMISSION_FAILED"
	CodeBundleFailed       Code = "BUNDLE_FAILED"
	CodeBundleInvalid      Code = "BUNDLE_INVALID"
	CodeConfirmTimeout     Code = "CONFIRMATION_TIMEOUT"
)

type attributes struct {
	stage     Stage
	retryable bool
}

var registry = map[Code]attributes{
	CodeInvalidArgument:    {StageUnknown, false},
	CodeInvalidConfig:      {StageConfig, false},
	CodeUpstream:           {StageResolve, true},
	CodeLookupTable:        {StageResolve, true},
	CodeMalformedOperation: {StagePacking, false},
	CodeCapacity:           {StagePacking, false}, // 单个操作无法再拆分，重试无意义
	CodeBundleTooLarge:     {StagePacking, false},
	CodeBlockhash:          {StageAssembly, true},
	CodeEncoderDrift:       {StageAssembly, false},
	CodeSubmission:         {StageSubmission, true},
	CodeBundleFailed:       {StageConfirmation, false},
	CodeBundleInvalid:      {StageConfirmation, false},
	CodeConfirmTimeout:     {StageConfirmation, true}, // 超时的 bundle 之后仍可能上链
}

// 元数据常用 key
const (
	MetaBundleID   = "bundle_id"
	MetaBatchIndex = "batch_index"
	MetaOpIndex    = "op_index"
	MetaRunID      = "run_id"
	MetaSize       = "size"
	MetaLimit      = "limit"
)

// Error 统一错误类型
type Error struct {
	code     Code
	stage    Stage
	message  string
	cause    error
	metadata map[string]string
}

type Option func(*Error)

func WithMetadata(key string, value any) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = fmt.Sprint(value)
	}
}

// WithStage 覆盖错误码默认的阶段
func WithStage(stage Stage) Option {
	return func(e *Error) {
		e.stage = stage
	}
}

func New(code Code, message string, opts ...Option) *Error {
	e := &Error{code: code, stage: registry[code].stage, message: message}
	if e.stage == "" {
		e.stage = StageUnknown
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] %s", e.stage, e.code, e.message)
	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.metadata[k])
		}
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码判等，配合 errors.Is(err, errors.New(CodeXxx, "")) 使用
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Stage() Stage {
	if e == nil {
		return StageUnknown
	}
	return e.stage
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Meta 返回单个元数据
func (e *Error) Meta(key string) (string, bool) {
	if e == nil || e.metadata == nil {
		return "", false
	}
	v, ok := e.metadata[key]
	return v, ok
}

func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return registry[e.code].retryable
}

// From 尝试从 error 链中取出统一错误类型
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

func StageOf(err error) Stage {
	if e, ok := From(err); ok {
		return e.Stage()
	}
	return StageUnknown
}

// HasCode 判断错误链中是否包含指定错误码
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

func IsRetryable(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// Annotate 给错误链中的统一错误追加元数据，返回副本，不修改原错误。
// 统一错误外层若还有 fmt.Errorf 等包装，外层信息与错误链都会保留。
// 不含统一错误时包装为 UNKNOWN。
func Annotate(err error, opts ...Option) error {
	if err == nil {
		return nil
	}
	e, ok := From(err)
	if !ok {
		return Wrap(CodeUnknown, err, "unexpected error", opts...)
	}
	cp := *e
	cp.metadata = make(map[string]string, len(e.metadata)+len(opts))
	for k, v := range e.metadata {
		cp.metadata[k] = v
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cp)
		}
	}
	if err == error(e) {
		return &cp
	}

	outer := err
	if a, ok := err.(*annotatedError); ok {
		outer = a.outer
	}
	return &annotatedError{outer: outer, inner: &cp}
}

// annotatedError 外层包装 + 追加了元数据的统一错误副本
type annotatedError struct {
	outer error
	inner *Error
}

func (a *annotatedError) Error() string {
	var b strings.Builder
	b.WriteString(a.outer.Error())
	keys := make([]string, 0, len(a.inner.metadata))
	for k := range a.inner.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, a.inner.metadata[k])
	}
	return b.String()
}

// Unwrap 副本在前，errors.As 优先取到带元数据的统一错误
func (a *annotatedError) Unwrap() []error {
	return []error{a.inner, a.outer}
}
