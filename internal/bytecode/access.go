package bytecode

// Access flags for classes, fields and methods (JVM specification 4.1, 4.5, 4.6).
const (
	AccPublic     = 0x0001
	AccPrivate    = 0x0002
	AccProtected  = 0x0004
	AccStatic     = 0x0008
	AccFinal      = 0x0010
	AccSuper      = 0x0020
	AccSynchronized = 0x0020
	AccVolatile   = 0x0040
	AccBridge     = 0x0040
	AccTransient  = 0x0080
	AccVarargs    = 0x0080
	AccNative     = 0x0100
	AccInterface  = 0x0200
	AccAbstract   = 0x0400
	AccStrict     = 0x0800
	AccSynthetic  = 0x1000
	AccAnnotation = 0x2000
	AccEnum       = 0x4000
)

// IsStatic reports whether flags carry ACC_STATIC.
func IsStatic(flags int) bool { return flags&AccStatic != 0 }

// IsPrivate reports whether flags carry ACC_PRIVATE.
func IsPrivate(flags int) bool { return flags&AccPrivate != 0 }

// IsFinal reports whether flags carry ACC_FINAL.
func IsFinal(flags int) bool { return flags&AccFinal != 0 }

// IsAbstract reports whether flags carry ACC_ABSTRACT.
func IsAbstract(flags int) bool { return flags&AccAbstract != 0 }
