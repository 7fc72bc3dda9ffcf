package message

// Packet is the unit written on a TCP connection. Topic scopes the payload
// to one protocol instance.
type Packet struct {
	Topic   string
	Sender  uint32
	Payload []byte
}
