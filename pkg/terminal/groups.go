package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	targetCmds
	dataCmds
	freezeCmds
	pageCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Inspecting the target", targetCmds},
	{"Reading and writing memory", dataCmds},
	{"Freezing values", freezeCmds},
	{"Protecting and allocating pages", pageCmds},
	{"Other commands", otherCmds},
}
