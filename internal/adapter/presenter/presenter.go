package presenter

import "strings"

// Presenter delivers formatted text and board images to the terminal
// without coupling to the command loop.
type Presenter struct {
	sendMessage func(message string) error
	sendImage   func(png []byte) error
}

func NewPresenter(sendMessage func(message string) error, sendImage func(png []byte) error) *Presenter {
	return &Presenter{
		sendMessage: sendMessage,
		sendImage:   sendImage,
	}
}

// Say sends message when it is not blank.
func (p *Presenter) Say(message string) error {
	if p == nil || p.sendMessage == nil || strings.TrimSpace(message) == "" {
		return nil
	}
	return p.sendMessage(message)
}

// Lines sends each non-blank line as one message.
func (p *Presenter) Lines(lines []string) error {
	for _, l := range lines {
		if err := p.Say(l); err != nil {
			return err
		}
	}
	return nil
}

// Board sends the message and then the rendered board, if any.
func (p *Presenter) Board(message string, png []byte) error {
	if p == nil {
		return nil
	}
	if err := p.Say(message); err != nil {
		return err
	}
	if len(png) > 0 && p.sendImage != nil {
		return p.sendImage(png)
	}
	return nil
}
