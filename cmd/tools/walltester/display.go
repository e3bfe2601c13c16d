package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
)

const previewWidth = 60

// terminalDisplay prints the rotation to a terminal.
type terminalDisplay struct {
	mu  sync.Mutex
	out io.Writer
}

func newTerminalDisplay(out io.Writer) *terminalDisplay {
	return &terminalDisplay{out: out}
}

func (d *terminalDisplay) Show(msg message.Message) {
	d.print(color.New(color.FgCyan).Render("[wall]"), msg)
}

func (d *terminalDisplay) Live(msg message.Message) {
	d.print(color.New(color.BgBlack, color.FgGreen).Render("[new!]"), msg)
}

func (d *terminalDisplay) Blank() {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, color.New(color.FgGray).Render("[wall] no messages yet"))
}

func (d *terminalDisplay) print(tag string, msg message.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fmt.Fprintf(d.out, "%s %s: %s\n", tag, color.New(color.OpBold).Render(msg.SenderName), msg.Text)
	if msg.HasImage() {
		fmt.Fprintf(d.out, "       picture: %s\n", msg.ImageURL)
	}
}

func renderTable(out io.Writer, messages []message.Message) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "When", "Name", "Message", "Picture"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, msg := range messages {
		picture := ""
		if msg.HasImage() {
			picture = "yes"
		}
		table.Append([]string{
			msg.ID,
			msg.CreatedAt.Local().Format(time.DateTime),
			msg.SenderName,
			preview(msg.Text),
			picture,
		})
	}
	table.Render()
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewWidth {
		return text
	}
	return string(runes[:previewWidth-1]) + "…"
}
