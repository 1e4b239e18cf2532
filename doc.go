// Package chatkit drives interactive child shells over a pipe or
// pseudo-terminal, checking byte by byte that the child echoes what it is
// sent the way a terminal does.
//
// Subpackages:
//
//   - chat: the dialogue engine (read, expect, swallow prompt, talk, read line)
//   - chat/transcript: JSONL transcripts of a dialogue, with live tailing
//   - chattest: a scripted fake terminal for tests
//
// # Quick Start
//
// The caller spawns the child and hands the session its two streams:
//
//	import "github.com/randalmurphal/chatkit/chat"
//
//	s := chat.New(ptmx, ptmx)
//	defer s.Close()
//
//	if err := s.SwallowPrompt(); err != nil {
//	    chat.Fatal(err)
//	}
//	serial, err := s.Query("getprop ro.serialno")
//	if err != nil {
//	    chat.Fatal(err)
//	}
//
// # Failure Model
//
// The dialogue is scripted. A lost stream or an unexpected byte leaves it
// out of sync with no way back, so every such error is fatal: the session is
// dead afterwards and the caller ends the process, normally with chat.Fatal.
package chatkit
