package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// ServerStatusKind enumerates lifecycle transitions a game server reports.
type ServerStatusKind uint32

const (
	ServerStatusUnknown ServerStatusKind = iota
	ServerStatusStarted
	ServerStatusStopped
	ServerStatusCrashed
)

// String returns the operator-facing label for the status.
func (k ServerStatusKind) String() string {
	switch k {
	case ServerStatusStarted:
		return "started"
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// PlayerStatusKind enumerates player presence transitions.
type PlayerStatusKind uint32

const (
	PlayerStatusUnknown PlayerStatusKind = iota
	PlayerStatusJoined
	PlayerStatusLeft
)

// String returns the operator-facing label for the transition.
func (k PlayerStatusKind) String() string {
	switch k {
	case PlayerStatusJoined:
		return "joined"
	case PlayerStatusLeft:
		return "left"
	default:
		return "unknown"
	}
}

// ServerInfo is the identity announcement a game server sends after connecting.
type ServerInfo struct {
	ServerID      string
	ServerName    string
	ServerAddress string
	MaxPlayers    uint32
}

func (*ServerInfo) SchemaName() string { return "ServerInfo" }

func (m *ServerInfo) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, m.ServerID)
	b = appendStringField(b, 2, m.ServerName)
	b = appendStringField(b, 3, m.ServerAddress)
	b = appendUint32Field(b, 4, m.MaxPlayers)
	return b, nil
}

func (m *ServerInfo) UnmarshalBinary(data []byte) error {
	*m = ServerInfo{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeStringField(typ, b, &m.ServerID)
		case 2:
			return consumeStringField(typ, b, &m.ServerName)
		case 3:
			return consumeStringField(typ, b, &m.ServerAddress)
		case 4:
			return consumeUint32Field(typ, b, &m.MaxPlayers)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// ServerStatus reports a lifecycle transition of one game server.
type ServerStatus struct {
	ServerID string
	Status   ServerStatusKind
}

func (*ServerStatus) SchemaName() string { return "ServerStatus" }

func (m *ServerStatus) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, m.ServerID)
	b = appendUint32Field(b, 2, uint32(m.Status))
	return b, nil
}

func (m *ServerStatus) UnmarshalBinary(data []byte) error {
	*m = ServerStatus{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeStringField(typ, b, &m.ServerID)
		case 2:
			var v uint32
			n, err := consumeUint32Field(typ, b, &v)
			m.Status = ServerStatusKind(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// ChatMessage carries one line of in-game or forwarded chat.
type ChatMessage struct {
	ServerID      string
	MessageAuthor string
	MessageBody   string
}

func (*ChatMessage) SchemaName() string { return "ChatMessage" }

func (m *ChatMessage) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, m.ServerID)
	b = appendStringField(b, 2, m.MessageAuthor)
	b = appendStringField(b, 3, m.MessageBody)
	return b, nil
}

func (m *ChatMessage) UnmarshalBinary(data []byte) error {
	*m = ChatMessage{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeStringField(typ, b, &m.ServerID)
		case 2:
			return consumeStringField(typ, b, &m.MessageAuthor)
		case 3:
			return consumeStringField(typ, b, &m.MessageBody)
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// PlayerStatus reports one player joining or leaving a game server.
type PlayerStatus struct {
	ServerID   string
	PlayerName string
	Status     PlayerStatusKind
}

func (*PlayerStatus) SchemaName() string { return "PlayerStatus" }

func (m *PlayerStatus) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, m.ServerID)
	b = appendStringField(b, 2, m.PlayerName)
	b = appendUint32Field(b, 3, uint32(m.Status))
	return b, nil
}

func (m *PlayerStatus) UnmarshalBinary(data []byte) error {
	*m = PlayerStatus{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeStringField(typ, b, &m.ServerID)
		case 2:
			return consumeStringField(typ, b, &m.PlayerName)
		case 3:
			var v uint32
			n, err := consumeUint32Field(typ, b, &v)
			m.Status = PlayerStatusKind(v)
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// PlayersOnline is the periodic player-count snapshot a game server sends.
type PlayersOnline struct {
	ServerID      string
	PlayersOnline uint32
	PlayerNames   []string
}

func (*PlayersOnline) SchemaName() string { return "PlayersOnline" }

func (m *PlayersOnline) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, m.ServerID)
	b = appendUint32Field(b, 2, m.PlayersOnline)
	for _, name := range m.PlayerNames {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	return b, nil
}

func (m *PlayersOnline) UnmarshalBinary(data []byte) error {
	*m = PlayersOnline{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeStringField(typ, b, &m.ServerID)
		case 2:
			return consumeUint32Field(typ, b, &m.PlayersOnline)
		case 3:
			var v string
			n, err := consumeStringField(typ, b, &v)
			if err == nil {
				m.PlayerNames = append(m.PlayerNames, v)
			}
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// GenericCommand is a remote command addressed to one game server, or a
// server-initiated request surfaced to the operator channel it names.
type GenericCommand struct {
	ServerID       string
	ChannelID      string
	CommandName    string
	DefaultCommand string
	Args           []string
}

func (*GenericCommand) SchemaName() string { return "GenericCommand" }

func (m *GenericCommand) MarshalBinary() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, m.ServerID)
	b = appendStringField(b, 2, m.ChannelID)
	b = appendStringField(b, 3, m.CommandName)
	b = appendStringField(b, 4, m.DefaultCommand)
	for _, arg := range m.Args {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, arg)
	}
	return b, nil
}

func (m *GenericCommand) UnmarshalBinary(data []byte) error {
	*m = GenericCommand{}
	return consumeFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeStringField(typ, b, &m.ServerID)
		case 2:
			return consumeStringField(typ, b, &m.ChannelID)
		case 3:
			return consumeStringField(typ, b, &m.CommandName)
		case 4:
			return consumeStringField(typ, b, &m.DefaultCommand)
		case 5:
			var v string
			n, err := consumeStringField(typ, b, &v)
			if err == nil {
				m.Args = append(m.Args, v)
			}
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}
