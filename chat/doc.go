// Package chat drives a scripted dialogue with an interactive child shell.
//
// A Session wraps two already-connected byte streams, one to the child and
// one from it, typically a pipe pair or a pty master. It sends lines and
// checks that the child's terminal echoes them back exactly:
//
//	s := chat.New(toChild, fromChild)
//	defer s.Close()
//
//	if err := s.SwallowPrompt(); err != nil { // "# " or "$ "
//	    chat.Fatal(err)
//	}
//	if err := s.Talk("echo hi"); err != nil { // expects "echo hi\r\n" or "echo hi\r\r\n"
//	    chat.Fatal(err)
//	}
//	line, err := s.ReadLine() // "hi"
//
// # Errors
//
// There are two kinds of failure and both are fatal. ErrCommunicationLost
// covers end of stream and I/O errors on either stream. ErrProtocolMismatch
// covers a byte that differs from the one the dialogue requires, reported as
// a *MismatchError. After either, the session is dead. Callers are expected
// to stop and exit, and Fatal prints the diagnostic and exits with
// ExitCommunication.
//
// # Configuration
//
// Sessions take functional options. Config loads the same settings from
// YAML, TOML or JSON files and CHAT_* environment variables:
//
//	cfg, err := chat.LoadConfigFile("chat.yaml")
//	s := chat.New(toChild, fromChild, cfg.ToOptions()...)
package chat
