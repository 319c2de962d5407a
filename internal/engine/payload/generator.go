package payload

import (
	"fmt"
	"strconv"
	"strings"

	"pubarmour/internal/pkg/random"
)

// The violation action: teleport away from the server, best effort, then the
// caller raises a visible error. Always embedded in its string.char form so
// the action is not greppable in a dumped payload.
const kickAction = "pcall(function()game:GetService('TeleportService'):Teleport(0)end)"

// Generator assembles the self-decoding wrapper delivered to clients. Every
// build draws a fresh XOR key and fresh identifier names, so two builds of
// the same source never produce the same bytes.
type Generator struct {
	chunkSize       int
	timingThreshold float64
}

func NewGenerator(chunkSize int, timingThreshold float64) *Generator {
	if chunkSize <= 0 {
		chunkSize = 120
	}
	if timingThreshold <= 0 {
		timingThreshold = 3
	}
	return &Generator{chunkSize: chunkSize, timingThreshold: timingThreshold}
}

// Build wraps source for delivery to the device identified by deviceID. With
// obfuscate false only the device re-check is emitted and the source is
// included verbatim, for scripts marked to skip protection.
func (g *Generator) Build(source, deviceID string, obfuscate bool) string {
	if !obfuscate {
		return g.buildPlain(source, deviceID)
	}
	return g.buildObfuscated(source, deviceID)
}

// chunk is one (variable, literal) pair of the encoded script body.
type chunk struct {
	name    string
	literal string
}

func (g *Generator) buildObfuscated(source, deviceID string) string {
	key := 30 + int(random.Byte())%180

	encoded := make([]byte, len(source))
	for i := 0; i < len(source); i++ {
		encoded[i] = source[i] ^ byte(key)
	}

	chunks := splitChunks(encoded, g.chunkSize)

	vTick := ident()
	vChar := ident()
	vConcat := ident()
	vFloor := ident()
	vLoad := ident()
	vKey := ident()
	vHWID := ident()
	vOut := ident()
	vBody := ident()
	vGuard := ident()

	var b strings.Builder
	b.WriteString("-- PubArmour Protected\n")
	fmt.Fprintf(&b, "local %s=tick\n", vTick)
	fmt.Fprintf(&b, "local %s=string.char\n", vChar)
	fmt.Fprintf(&b, "local %s=table.concat\n", vConcat)
	fmt.Fprintf(&b, "local %s=math.floor\n", vFloor)
	fmt.Fprintf(&b, "local %s=loadstring or load\n", vLoad)
	fmt.Fprintf(&b, "local %s=%d\n", vKey, key)
	fmt.Fprintf(&b, "local %s=%s\n", vHWID, encodeString(deviceID))
	fmt.Fprintf(&b, "local %s=game and game.GetService\n", vGuard)
	fmt.Fprintf(&b, "if not %s then error(\"ctx\",2) end\n", vGuard)
	fmt.Fprintf(&b, "local _t0=%s()\n", vTick)

	for _, c := range chunks {
		fmt.Fprintf(&b, "local %s=%s\n", c.name, c.literal)
	}

	names := make([]string, len(chunks))
	for i, c := range chunks {
		names[i] = c.name
	}

	fmt.Fprintf(&b, "local %s={}\n", vOut)
	b.WriteString("local _di=1\n")
	fmt.Fprintf(&b, "local _chunks={%s}\n", strings.Join(names, ","))
	b.WriteString("for _,_ch in ipairs(_chunks) do\n")
	fmt.Fprintf(&b, "  for _j=1,#_ch do %s[_di]=%s(%s(_ch[_j])~%s) _di=_di+1 end\n", vOut, vChar, vFloor, vKey)
	b.WriteString("end\n")

	// Timing guard: a breakpoint or single-step between entry and decode
	// blows past the threshold.
	fmt.Fprintf(&b, "local _t1=%s()\n", vTick)
	fmt.Fprintf(&b, "if (_t1-_t0)>%s then\n", formatThreshold(g.timingThreshold))
	b.WriteString("  " + kickLine() + "\n")
	fmt.Fprintf(&b, "  error(%s,2) return\nend\n", encodeString("[PubArmour] Timing violation."))

	// Sandbox guard: the eval primitive must exist and compile a trivial
	// program.
	fmt.Fprintf(&b, "if type(%s)~=\"function\" or type(%s(\"return 1\"))~=\"function\" then\n", vLoad, vLoad)
	b.WriteString("  " + kickLine() + "\n")
	fmt.Fprintf(&b, "  error(%s,2) return\nend\n", encodeString("[PubArmour] Integrity check failed."))

	b.WriteString(deviceCheck(vHWID))

	fmt.Fprintf(&b, "local %s=%s(%s)\n", vBody, vConcat, vOut)
	fmt.Fprintf(&b, "local _fn,_er=%s(%s)\n", vLoad, vBody)
	b.WriteString("if not _fn then\n")
	b.WriteString("  " + kickLine() + "\n")
	b.WriteString("  error(tostring(_er),2)\nend\n")
	b.WriteString("return _fn()")

	return b.String()
}

func (g *Generator) buildPlain(source, deviceID string) string {
	vGuard := ident()
	vHWID := ident()

	var b strings.Builder
	b.WriteString("-- PubArmour Protected (pre-obfuscated)\n")
	fmt.Fprintf(&b, "local %s=game and game.GetService\n", vGuard)
	fmt.Fprintf(&b, "if not %s then error(\"ctx\",2) end\n", vGuard)
	fmt.Fprintf(&b, "local %s=%s\n", vHWID, encodeString(deviceID))
	b.WriteString(deviceCheck(vHWID))
	b.WriteString(source)

	return b.String()
}

// Kick builds the generic denial payload: disconnect best effort, then raise
// a visible "[PubArmour] ..." error. Executable in the same runtime as a
// real delivery so the failure channel is indistinguishable from one.
func Kick(message string) string {
	return kickLine() + ";error(" + encodeString("[PubArmour] "+message) + ",2)"
}

// KickPlain is Kick with an unencoded short reason string, matching the
// token-exchange failure channel.
func KickPlain(reason string) string {
	return kickLine() + ";error(" + strconv.Quote(reason) + ",2)"
}

func kickLine() string {
	return "load(" + encodeString(kickAction) + ")()"
}

// deviceCheck emits the runtime re-check of the embedded device identity
// against a freshly queried one.
func deviceCheck(vHWID string) string {
	var b strings.Builder
	b.WriteString("local _hw,_hok\n")
	b.WriteString("_hok=pcall(function() _hw=tostring(game:GetService(\"RbxAnalyticsService\"):GetClientId()) end)\n")
	b.WriteString("if not _hok or not _hw or _hw==\"\" then\n")
	b.WriteString("  _hw=tostring(game:GetService(\"Players\").LocalPlayer.UserId)\n")
	b.WriteString("end\n")
	fmt.Fprintf(&b, "if _hw~=%s then\n", vHWID)
	b.WriteString("  " + kickLine() + "\n")
	fmt.Fprintf(&b, "  error(%s,2) return\nend\n", encodeString("[PubArmour] HWID mismatch."))
	return b.String()
}

// ident returns a fresh random Lua identifier.
func ident() string {
	return "_" + random.Hex(4)
}

// encodeString renders s as a string.char(...) expression so no plain text
// survives in the wrapper.
func encodeString(s string) string {
	codes := make([]string, len(s))
	for i := 0; i < len(s); i++ {
		codes[i] = strconv.Itoa(int(s[i]))
	}
	return "string.char(" + strings.Join(codes, ",") + ")"
}

func splitChunks(encoded []byte, size int) []chunk {
	var chunks []chunk
	for i := 0; i < len(encoded); i += size {
		end := i + size
		if end > len(encoded) {
			end = len(encoded)
		}
		part := encoded[i:end]

		values := make([]string, len(part))
		for j, v := range part {
			values[j] = strconv.Itoa(int(v))
		}
		chunks = append(chunks, chunk{
			name:    ident(),
			literal: "{" + strings.Join(values, ",") + "}",
		})
	}
	return chunks
}

func formatThreshold(t float64) string {
	return strconv.FormatFloat(t, 'g', -1, 64)
}
