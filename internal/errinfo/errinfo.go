package errinfo

// ErrorInfo is the structured error payload sent to the editor.
type ErrorInfo struct {
	ErrorCode  string   `json:"error_code"`
	Phase      string   `json:"phase,omitempty"`
	Subphase   string   `json:"subphase,omitempty"`
	Retryable  bool     `json:"retryable"`
	Actions    []string `json:"actions,omitempty"`
	ProviderID string   `json:"provider_id,omitempty"`
	DocumentID string   `json:"document_id,omitempty"`
	HandleID   string   `json:"handle_id,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

const (
	CodeToolNotFound          = "TOOL_NOT_FOUND"
	CodeConversionFailed      = "CONVERSION_FAILED"
	CodeConversionTimeout     = "CONVERSION_TIMEOUT"
	CodeUnsupportedFormat     = "UNSUPPORTED_FORMAT"
	CodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	CodeProviderAuthFailed    = "PROVIDER_AUTH_FAILED"
	CodeProviderUnavailable   = "PROVIDER_UNAVAILABLE"
	CodeProviderRateLimited   = "PROVIDER_RATE_LIMITED"
	CodeMalformedResponse     = "MALFORMED_RESPONSE"
	CodeEgressBlocked         = "EGRESS_BLOCKED_BY_POLICY"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeFileWriteFailed       = "FILE_WRITE_FAILED"
	CodeUserCanceled          = "USER_CANCELED"
	CodeEngineClosed          = "ENGINE_CLOSED"
)

const (
	ActionRetry        = "retry"
	ActionOpenSettings = "open_settings"
	ActionInstallTool  = "install_pandoc"
)

const (
	PhaseConversion = "conversion"
	PhaseRoundTrip  = "round_trip"
	PhaseExport     = "export"
	PhaseProviders  = "providers"
	PhaseTools      = "tools"
)

const (
	SubphaseAI       = "ai"
	SubphaseFallback = "fallback"
	SubphasePublish  = "publish"
)

func ToolNotFound(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeToolNotFound,
		Phase:     phase,
		Retryable: false,
		Actions:   []string{ActionInstallTool},
		Detail:    detail,
	}
}

func ConversionFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeConversionFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func ConversionTimeout(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeConversionTimeout,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func UnsupportedFormat(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeUnsupportedFormat,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func ProviderNotConfigured(phase, providerID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode:  CodeProviderNotConfigured,
		Phase:      phase,
		Retryable:  false,
		Actions:    []string{ActionOpenSettings},
		ProviderID: providerID,
	}
}

func ProviderAuthFailed(phase, providerID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode:  CodeProviderAuthFailed,
		Phase:      phase,
		Retryable:  false,
		Actions:    []string{ActionOpenSettings},
		ProviderID: providerID,
	}
}

func ProviderUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func ProviderRateLimited(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeProviderRateLimited,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func MalformedResponse(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeMalformedResponse,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func EgressBlocked(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEgressBlocked,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func FileWriteFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileWriteFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func UserCanceled(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeUserCanceled,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func EngineClosed(phase string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEngineClosed,
		Phase:     phase,
		Retryable: false,
	}
}

// WithSubphase returns a copy of info tagged with subphase.
func WithSubphase(info *ErrorInfo, subphase string) *ErrorInfo {
	if info == nil {
		return nil
	}
	copied := *info
	copied.Subphase = subphase
	return &copied
}
