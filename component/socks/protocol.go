package socks

// negotiation
// +----+----------+----------+
// |VER | NMETHODS | METHODS  |
// +----+----------+----------+
// | 1  |    1     | 1 to 255 |
// +----+----------+----------+
//
// request and reply
// +----+-----+-------+------+----------+----------+
// |VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
// +----+-----+-------+------+----------+----------+
// | 1  |  1  | X'00' |  1   | Variable |    2     |
// +----+-----+-------+------+----------+----------+
//
// udp relay header
// +----+------+------+----------+----------+----------+
// |RSV | FRAG | ATYP | DST.ADDR | DST.PORT |   DATA   |
// +----+------+------+----------+----------+----------+
// | 2  |  1   |  1   | Variable |    2     | Variable |
// +----+------+------+----------+----------+----------+

const (
	// version, only socks5
	Ver = byte(0x05)
	// methods
	MethodNoAuth       = byte(0x00)
	MethodNoAcceptable = byte(0xff)
	// commands
	CmdConnect      = byte(0x01)
	CmdUdpAssociate = byte(0x03)
	// reserve
	Rsv = byte(0x00)
	// address types
	AtypIPv4   = byte(0x01)
	AtypDomain = byte(0x03)
	AtypIPv6   = byte(0x04)
	// replies
	ReplySucceeded       = byte(0x00)
	ReplyCmdNotSupported = byte(0x07)
)

const (
	VerPos   = 0
	ReplyPos = 1
	AtypPos  = 3
	Ipv4Size = 4
	Ipv6Size = 16
	PortSize = 2
	// rsv(2) + frag(1) + atyp(1) + ipv6(16) + port(2)
	MaxUdpHeaderSize = 22
)
