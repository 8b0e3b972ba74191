package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/redcon"

	"walredo"
	"walredo/data"
)

func newWrongNumberOfArgsError(cmd string) error {
	return fmt.Errorf("ERR wrong number of arguments for '%s' command", cmd)
}

type cmdHandler func(cli *ReplicaClient, args [][]byte) (interface{}, error)

var supportedCommands = map[string]cmdHandler{
	"pos":     position,
	"durable": durable,
	"wait":    wait,
	"getpage": getPage,
	"stat":    stat,
	"refresh": refresh,
}

type ReplicaClient struct {
	server  *ReplicaServer
	replica *walredo.Replica
}

func execClientCommand(conn redcon.Conn, cmd redcon.Command) {
	command := strings.ToLower(string(cmd.Args[0]))
	cmdFunc, ok := supportedCommands[command]
	if !ok {
		switch command {
		case "quit":
			_ = conn.Close()
		case "ping":
			conn.WriteString("PONG")
		default:
			conn.WriteError("Err unsupported command: '" + command + "'")
		}
		return
	}

	client, _ := conn.Context().(*ReplicaClient)
	res, err := cmdFunc(client, cmd.Args[1:])
	if err != nil {
		if errors.Is(err, walredo.ErrPageNotFound) {
			conn.WriteNull()
			return
		}
		conn.WriteError(err.Error())
		return
	}
	writeReply(conn, res)
}

func writeReply(conn redcon.Conn, res interface{}) {
	switch v := res.(type) {
	case nil:
		conn.WriteNull()
	case string:
		conn.WriteBulkString(v)
	case []byte:
		conn.WriteBulk(v)
	case int64:
		conn.WriteInt64(v)
	case []string:
		conn.WriteArray(len(v))
		for _, s := range v {
			conn.WriteBulkString(s)
		}
	default:
		conn.WriteAny(v)
	}
}

func position(cli *ReplicaClient, args [][]byte) (interface{}, error) {
	if len(args) != 0 {
		return nil, newWrongNumberOfArgsError("pos")
	}
	return cli.replica.Position().String(), nil
}

func durable(cli *ReplicaClient, args [][]byte) (interface{}, error) {
	if len(args) != 0 {
		return nil, newWrongNumberOfArgsError("durable")
	}
	return cli.replica.DurablePosition().String(), nil
}

// wait [timeout-ms], 不带超时时一直等待
func wait(cli *ReplicaClient, args [][]byte) (interface{}, error) {
	if len(args) > 1 {
		return nil, newWrongNumberOfArgsError("wait")
	}
	ctx := context.Background()
	if len(args) == 1 {
		ms, err := strconv.ParseInt(string(args[0]), 10, 64)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("ERR invalid timeout '%s'", args[0])
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}
	if err := cli.replica.WaitForCatchUpContext(ctx); err != nil {
		return nil, err
	}
	return cli.replica.Position().String(), nil
}

// getpage vol page, 返回重做后的页内容
func getPage(cli *ReplicaClient, args [][]byte) (interface{}, error) {
	if len(args) != 2 {
		return nil, newWrongNumberOfArgsError("getpage")
	}
	vol, err := strconv.ParseInt(string(args[0]), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("ERR invalid volume id '%s'", args[0])
	}
	pageID, err := strconv.ParseInt(string(args[1]), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("ERR invalid page id '%s'", args[1])
	}
	page, _, err := cli.replica.ReadPage(data.PageAddr{VolID: int16(vol), PageID: int32(pageID)})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func stat(cli *ReplicaClient, args [][]byte) (interface{}, error) {
	if len(args) != 0 {
		return nil, newWrongNumberOfArgsError("stat")
	}
	st := cli.replica.Stat()
	res := []string{
		"state", st.State.String(),
		"position", st.Position.String(),
		"durable_position", st.DurablePosition.String(),
		"mvcc_next_id", strconv.FormatUint(uint64(st.MVCCNextID), 10),
		"rounds", strconv.FormatUint(st.Rounds, 10),
		"records", strconv.FormatUint(st.Records, 10),
		"skipped", strconv.FormatUint(st.Skipped, 10),
		"pages", strconv.FormatUint(uint64(st.PageNum), 10),
		"log_pages", strconv.FormatInt(st.LogPageNum, 10),
		"disk_size", strconv.FormatInt(st.DiskSize, 10),
		"disk_free", strconv.FormatUint(st.DiskFree, 10),
	}
	if st.Err != nil {
		res = append(res, "error", st.Err.Error())
	}
	return res, nil
}

func refresh(cli *ReplicaClient, args [][]byte) (interface{}, error) {
	if len(args) != 0 {
		return nil, newWrongNumberOfArgsError("refresh")
	}
	pos, err := cli.replica.RefreshHeader()
	if err != nil {
		return nil, err
	}
	return pos.String(), nil
}
