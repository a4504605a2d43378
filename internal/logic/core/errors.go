package core

import "errors"

// 错误分类。所有校验类错误都在提交交易之前返回，保证不会产生部分链上效果。
var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrAccountNotFound         = errors.New("account not found")
	ErrMintMismatch            = errors.New("mint mismatch")
	ErrNotDelegated            = errors.New("account has no delegate")
	ErrWrongDelegate           = errors.New("delegate mismatch")
	ErrInsufficientAllowance   = errors.New("insufficient allowance")
	ErrDestinationMintMismatch = errors.New("destination mint mismatch")
	ErrBatchTooLarge           = errors.New("batch too large")
	ErrSubmissionFailed        = errors.New("submission failed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "InvalidInput"},
	{ErrAccountNotFound, "AccountNotFound"},
	{ErrMintMismatch, "MintMismatch"},
	{ErrNotDelegated, "NotDelegated"},
	{ErrWrongDelegate, "WrongDelegate"},
	{ErrInsufficientAllowance, "InsufficientAllowance"},
	{ErrDestinationMintMismatch, "DestinationMintMismatch"},
	{ErrBatchTooLarge, "BatchTooLarge"},
	{ErrSubmissionFailed, "SubmissionFailed"},
}

// KindOf 返回错误的稳定分类名，供 HTTP 边界与事件使用；无法归类时返回 "Internal"
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// IsValidation 校验失败（调用方错误或链上状态不满足），不应重试
func IsValidation(err error) bool {
	return IsValidationKind(KindOf(err))
}

// IsValidationKind 同 IsValidation，参数为 KindOf 的结果
func IsValidationKind(kind string) bool {
	switch kind {
	case "InvalidInput", "AccountNotFound", "MintMismatch", "NotDelegated", "WrongDelegate",
		"InsufficientAllowance", "DestinationMintMismatch", "BatchTooLarge":
		return true
	}
	return false
}
