package errs

const (
	ServerInternalError    = 500
	BrokerUnavailableError = 503

	ValidationErrorCode    = 1001
	UnknownMessageTypeCode = 1002
	RoomNotFoundCode       = 1004
	DuplicateNicknameCode  = 1009
	GeojsonLimitCode       = 1013
	ImageUnreadableCode    = 1015

	BridgeAuthFailureCode     = 2001
	BridgeRequestNotFoundCode = 2004
	BridgeAlreadyClaimedCode  = 2009
	BridgeDisabledCode        = 2010
)

var (
	ErrInternalServer    = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrBrokerUnavailable = NewCodeError(BrokerUnavailableError, "BrokerUnavailable")

	ErrValidation         = NewCodeError(ValidationErrorCode, "ValidationError")
	ErrUnknownMessageType = NewCodeError(UnknownMessageTypeCode, "UnknownMessageType")
	ErrRoomNotFound       = NewCodeError(RoomNotFoundCode, "RoomNotFound")
	ErrDuplicateNickname  = NewCodeError(DuplicateNicknameCode, "DuplicateNickname")
	ErrGeojsonLimit       = NewCodeError(GeojsonLimitCode, "GeojsonFeatureLimitExceeded")
	ErrImageUnreadable    = NewCodeError(ImageUnreadableCode, "ImageUnreadable")

	ErrBridgeAuthFailure     = NewCodeError(BridgeAuthFailureCode, "BridgeAuthFailure")
	ErrBridgeRequestNotFound = NewCodeError(BridgeRequestNotFoundCode, "BridgeRequestNotFound")
	ErrBridgeAlreadyClaimed  = NewCodeError(BridgeAlreadyClaimedCode, "BridgeAlreadyClaimed")
	ErrBridgeDisabled        = NewCodeError(BridgeDisabledCode, "BridgeDisabled")
)
