package apperror

var (
	ErrNotParticipant       = Forbidden("user is not a participant in this conversation")
	ErrNotMessageOwner      = Forbidden("only the sender can modify this message")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrMessageNotFound      = NotFound("message not found")
	ErrUserNotFound         = NotFound("user not found")
	ErrUsernameTaken        = AlreadyExists("username is already taken")
	ErrPhoneTaken           = AlreadyExists("phone is already taken")
	ErrInvalidCredentials   = Unauthenticated("the provided credentials are incorrect")
	ErrInvalidToken         = Unauthenticated("invalid or revoked token")
	ErrRegistrationClosed   = Forbidden("registration is currently disabled")
	ErrReceiptNotTwoParty   = FailedPrecondition("read receipt is only defined for two-party conversations")
)
