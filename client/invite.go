package client

import (
	"context"

	"github.com/putto11262002/vanish/core"
	"github.com/putto11262002/vanish/e2ee"
)

// Invite creates a room, generates its key, and mints the shareable link.
// The key travels only in the link's fragment; it is never sent to the
// server.
func Invite(ctx context.Context, p *Protocol, publicURL string) (string, *e2ee.Key, string, error) {
	roomID, err := p.CreateRoom(ctx)
	if err != nil {
		return "", nil, "", err
	}
	key, err := e2ee.GenerateKey()
	if err != nil {
		return "", nil, "", err
	}
	return roomID, key, e2ee.BuildInviteLink(publicURL, roomID, key), nil
}

// Accept parses an invite link, imports the key from its fragment, and joins
// the room. Only the room id from the link is ever sent upstream.
func Accept(ctx context.Context, p *Protocol, link, participant string) (string, *e2ee.Key, error) {
	roomID, key, err := e2ee.ParseInviteLink(link)
	if err != nil {
		return "", nil, err
	}
	if err := p.Join(ctx, roomID, participant); err != nil {
		return "", nil, err
	}
	return roomID, key, nil
}

// SendText seals the plaintext under the room key and submits the envelope.
// On failure the plaintext is unconsumed; the caller may retry with it.
func SendText(ctx context.Context, p *Protocol, roomID, sender string, key *e2ee.Key, text string) (*core.Message, error) {
	envelope, err := key.Encrypt(text)
	if err != nil {
		return nil, err
	}
	return p.Send(ctx, roomID, sender, envelope)
}
