package dispatch

import "log/slog"

// RegistrationListener observes operator lifecycle events: the first schema
// registration of an operator and its full deregistration.
//
// Callbacks run synchronously while the registration mutex is held, so a
// listener must not call back into a mutating registry operation.
type RegistrationListener interface {
	OnOperatorRegistered(op OperatorHandle)
	OnOperatorDeregistered(op OperatorHandle)
}

// listenerList fans events out to listeners in insertion order.
type listenerList struct {
	listeners []RegistrationListener
}

func (l *listenerList) add(listener RegistrationListener) {
	l.listeners = append(l.listeners, listener)
}

func (l *listenerList) callRegistered(op OperatorHandle) {
	for _, listener := range l.listeners {
		listener.OnOperatorRegistered(op)
	}
}

func (l *listenerList) callDeregistered(op OperatorHandle) {
	for _, listener := range l.listeners {
		listener.OnOperatorDeregistered(op)
	}
}

// LogListener logs operator lifecycle events through slog. Useful when
// debugging registration ordering across init paths.
type LogListener struct {
	Logger *slog.Logger // defaults to slog.Default when nil
}

func (l *LogListener) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// OnOperatorRegistered implements RegistrationListener.
func (l *LogListener) OnOperatorRegistered(op OperatorHandle) {
	l.logger().Info("operator registered", "op", op.Name().String())
}

// OnOperatorDeregistered implements RegistrationListener.
func (l *LogListener) OnOperatorDeregistered(op OperatorHandle) {
	l.logger().Info("operator deregistered", "op", op.Name().String())
}
