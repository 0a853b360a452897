package types

type OrderSide string

type OrderType string

type SessionState string

type JournalDriver string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionExchangingCode  SessionState = "exchanging_code"
	SessionAuthenticated   SessionState = "authenticated"
	// SessionProfileFailed is transient; listeners see it right before the
	// session falls back to SessionUnauthenticated.
	SessionProfileFailed SessionState = "profile_failed"
)

const (
	JournalNone     JournalDriver = "none"
	JournalSQLite   JournalDriver = "sqlite"
	JournalPostgres JournalDriver = "postgres"
)

const (
	CredentialFromExchange = "exchange"
	CredentialFromDisk     = "restored"
)
