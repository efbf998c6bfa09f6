package channel

import (
	"time"

	"bitlet/message"
)

// writeTimeout bounds every single frame written to a peer.
const writeTimeout = 10 * time.Second

func (ch *Channel) send(msg *message.Message) error {
	ch.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := ch.Conn.Write(msg.Serialize())
	return err
}

func (ch *Channel) sendRequest(index, begin, length int) error {
	return ch.send(message.CreateRequestMessage(index, begin, length))
}

func (ch *Channel) sendInterested() error {
	return ch.send(&message.Message{ID: message.Interested})
}

func (ch *Channel) sendNotInterested() error {
	return ch.send(&message.Message{ID: message.NotInterested})
}

func (ch *Channel) sendHave(index int) error {
	return ch.send(message.CreateHaveMessage(index))
}
