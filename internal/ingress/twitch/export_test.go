package twitch

import "github.com/adeithe/go-twitch/irc"

// SetConnFactory replaces the IRC connection constructor.
func (a *Adapter) SetConnFactory(newConn func() irc.IConn) {
	a.newConn = newConn
}
