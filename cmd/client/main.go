// Command client is the interactive postbox client: it prompts for a
// command and its fields, ships the request to the server, and prints the
// response. All rules live server-side; this is pure I/O.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sort"
	"strings"

	"postbox/pkg/protocol"
)

// commandFields lists the named inputs each command prompts for, in order.
// Commands absent from this map take no arguments.
var commandFields = map[string][]string{
	"signup": {"username", "password", "role"},
	"login":  {"username", "password"},
	"send":   {"recipient", "msg_content"},
}

func main() {
	addr := flag.String("addr", "127.0.0.1:65432", "Server address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", *addr, err)
	}
	defer conn.Close()
	fmt.Println("Connected to the server.")

	stdin := bufio.NewScanner(os.Stdin)
	reader := protocol.NewLineReader(conn)

	for {
		request, ok := readUserInput(stdin)
		if !ok {
			return
		}

		if err := protocol.WriteValue(conn, request); err != nil {
			log.Fatalf("Failed to send request: %v", err)
		}

		line, err := reader.ReadLine()
		if err != nil {
			log.Fatalf("Connection closed: %v", err)
		}

		response, err := protocol.DecodeValue(line)
		if err != nil {
			log.Fatalf("Bad response from server: %v", err)
		}

		if response == protocol.StopSentinel {
			fmt.Println("The server has been closed.")
			return
		}
		printResponse(response)
	}
}

// readUserInput prompts for a command and its fields and returns the
// request object to send. The second return value is false on stdin EOF.
func readUserInput(stdin *bufio.Scanner) (map[string]string, bool) {
	fmt.Print("\nEnter the command. Type 'help' to print command list: ")
	if !stdin.Scan() {
		return nil, false
	}
	command := strings.TrimSpace(stdin.Text())

	request := map[string]string{"command": command}
	for _, field := range commandFields[command] {
		fmt.Printf(">>> %s: ", field)
		if !stdin.Scan() {
			return nil, false
		}
		request[field] = strings.TrimSpace(stdin.Text())
	}
	return request, true
}

// printResponse renders a decoded response: objects as key: value lines,
// arrays as blank-line-separated objects, anything else verbatim.
func printResponse(response any) {
	switch response := response.(type) {
	case map[string]any:
		fmt.Println()
		printObject(response)
	case []any:
		for _, item := range response {
			fmt.Println()
			if obj, ok := item.(map[string]any); ok {
				printObject(obj)
			} else {
				fmt.Println(item)
			}
		}
	default:
		fmt.Printf("\n%v\n", response)
	}
}

func printObject(obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%s: %v\n", key, formatValue(obj[key]))
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
