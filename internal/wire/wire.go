// Package wire implements the binary request/response protocol spoken
// between the driver and the database server: an initialization handshake
// followed by length-prefixed messages, each carrying one segment composed
// of typed parts. All integers are little-endian.
package wire

// HandshakeRequest is the fixed 8-byte initialization request sent once per
// connection before any message exchange.
var HandshakeRequest = [8]byte{0xFF, '4', '2', 0x04, 0x20, 0x00, 0x04, 0x01}

// HandshakeReplySize is the size of the server's initialization reply:
// product version (major int8, minor int16) and protocol version
// (major int8, minor int16).
const HandshakeReplySize = 8

// MessageType identifies a request segment's operation.
type MessageType int8

const (
	MtNil            MessageType = 0
	MtExecuteDirect  MessageType = 2
	MtCommit         MessageType = 5
	MtRollback       MessageType = 6
	MtFetchNext      MessageType = 7
	MtAuthenticate   MessageType = 65
	MtConnect        MessageType = 66
	MtCloseResultSet MessageType = 69
	MtDisconnect     MessageType = 77
	MtDBConnectInfo  MessageType = 82
)

func (t MessageType) String() string {
	switch t {
	case MtExecuteDirect:
		return "EXECUTEDIRECT"
	case MtCommit:
		return "COMMIT"
	case MtRollback:
		return "ROLLBACK"
	case MtFetchNext:
		return "FETCHNEXT"
	case MtAuthenticate:
		return "AUTHENTICATE"
	case MtConnect:
		return "CONNECT"
	case MtCloseResultSet:
		return "CLOSERESULTSET"
	case MtDisconnect:
		return "DISCONNECT"
	case MtDBConnectInfo:
		return "DBCONNECTINFO"
	}
	return "NIL"
}

// SegmentKind discriminates request, reply and error segments.
type SegmentKind int8

const (
	SkInvalid SegmentKind = 0
	SkRequest SegmentKind = 1
	SkReply   SegmentKind = 2
	SkError   SegmentKind = 5
)

// FunctionCode is returned in reply segments and tells the client what the
// statement did.
type FunctionCode int16

const (
	FcNil             FunctionCode = 0
	FcDDL             FunctionCode = 1
	FcInsert          FunctionCode = 2
	FcUpdate          FunctionCode = 3
	FcDelete          FunctionCode = 4
	FcSelect          FunctionCode = 5
	FcSelectForUpdate FunctionCode = 6
	FcFetch           FunctionCode = 7
	FcCommit          FunctionCode = 8
	FcRollback        FunctionCode = 9
	FcDBProcedureCall FunctionCode = 12
	FcConnect         FunctionCode = 14
	FcDisconnect      FunctionCode = 18
)

// IsRowProducing reports whether the function code announces a result set.
func (fc FunctionCode) IsRowProducing() bool {
	return fc == FcSelect || fc == FcSelectForUpdate || fc == FcDBProcedureCall
}

// PartKind identifies a part's payload format.
type PartKind int8

const (
	PkCommand             PartKind = 3
	PkResultSet           PartKind = 5
	PkError               PartKind = 6
	PkStatementID         PartKind = 10
	PkRowsAffected        PartKind = 12
	PkResultSetID         PartKind = 13
	PkTopologyInformation PartKind = 15
	PkParameters          PartKind = 32
	PkAuthentication      PartKind = 33
	PkConnectOptions      PartKind = 42
	PkFetchSize           PartKind = 45
	PkResultSetMetadata   PartKind = 48
	PkClientInfo          PartKind = 57
	PkTransactionFlags    PartKind = 64
	PkDBConnectInfo       PartKind = 67
)

// Part attribute flags.
const (
	PaLastPacket      uint8 = 0x01 // no more parts of this kind follow
	PaNextPacket      uint8 = 0x02
	PaFirstPacket     uint8 = 0x04
	PaRowNotFound     uint8 = 0x08
	PaResultSetClosed uint8 = 0x10
)

// Command option flags set on request segments.
const (
	CoNil                  uint8 = 0
	CoHoldCursorOverCommit uint8 = 0x08
)

// Connect option keys (PkConnectOptions, PkDBConnectInfo key space).
const (
	CoKConnectionID           uint8 = 1
	CoKCompleteArrayExecution uint8 = 2
	CoKClientLocale           uint8 = 3
	CoKNetworkGroup           uint8 = 7
	CoKDatabaseName           uint8 = 11
	CoKServerMemoryUsage      uint8 = 40
	CoKServerProcessingTime   uint8 = 41
	CoKFullVersion            uint8 = 44
)

// Client info keys sent for diagnostics.
const (
	CiApplication        = "APPLICATION"
	CiApplicationVersion = "APPLICATIONVERSION"
	CiApplicationUser    = "APPLICATIONUSER"
	CiApplicationSource  = "APPLICATIONSOURCE"
)

// Authentication method names.
const (
	AmScramSHA256       = "SCRAMSHA256"
	AmScramPBKDF2SHA256 = "SCRAMPBKDF2SHA256"
)
