package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"walredo"
	"walredo/data"
	"walredo/pagebuf"
	"walredo/recovery"
	"walredo/utils"
)

const (
	benchPageSize = 4096
	benchPages    = 1024
	benchLogName  = "walredo"
)

// writeBenchLog 生成 n 条页写入记录, 均匀分布在 benchPages 个页上
func writeBenchLog(dir string, n int, zip bool) error {
	b := data.NewLogBuilder(benchPageSize, data.LogPosition{})
	b.Zip = zip
	for i := 0; i < benchPages; i++ {
		b.AppendRedo(recovery.RcvPageInit, data.PageAddr{PageID: int32(i)}, data.MVCCIDNull, nil)
	}
	for i := 0; i < n; i++ {
		addr := data.PageAddr{PageID: int32(i % benchPages), Offset: int16(rand.Intn(benchPageSize / 2))}
		b.AppendRedo(recovery.RcvPageWrite, addr, data.MVCCID(i+1), utils.RandomValue(128))
	}

	hdr := data.NewLogHeader(benchPageSize)
	hdr.AppendPos = b.EndPosition()
	hdr.CheckpointPos = data.LogPosition{}
	return pagebuf.WriteLogFile(dir, benchLogName, hdr, b.Pages())
}

func openBenchReplica(b *testing.B, dir string, indexType walredo.IndexType) *walredo.Replica {
	opts := walredo.DefaultOptions
	opts.DirPath = dir
	opts.LogName = benchLogName
	opts.PageSize = benchPageSize
	opts.IndexType = indexType
	opts.MMapAtStartup = false
	rp, err := walredo.Open(opts)
	if err != nil {
		b.Fatal(fmt.Sprintf("failed to open replica: %v", err))
	}
	return rp
}

func benchmarkReplay(b *testing.B, indexType walredo.IndexType, zip bool) {
	dir, _ := os.MkdirTemp("", "walredo-benchmark")
	defer os.RemoveAll(dir)
	assert.Nil(b, writeBenchLog(dir, b.N, zip))

	b.ResetTimer()
	b.ReportAllocs()

	rp := openBenchReplica(b, dir, indexType)
	err := rp.WaitForCatchUpContext(context.Background())
	b.StopTimer()
	assert.Nil(b, err)
	assert.Nil(b, rp.Close())
}

func Benchmark_ReplayBTree(b *testing.B) {
	benchmarkReplay(b, walredo.Btree, false)
}

func Benchmark_ReplayART(b *testing.B) {
	benchmarkReplay(b, walredo.ART, false)
}

func Benchmark_ReplayBPlusTree(b *testing.B) {
	benchmarkReplay(b, walredo.BPlusTree, false)
}

func Benchmark_ReplayZipped(b *testing.B) {
	benchmarkReplay(b, walredo.Btree, true)
}

func Benchmark_ReadPage(b *testing.B) {
	dir, _ := os.MkdirTemp("", "walredo-benchmark-read")
	defer os.RemoveAll(dir)
	assert.Nil(b, writeBenchLog(dir, benchPages*4, false))

	rp := openBenchReplica(b, dir, walredo.Btree)
	defer rp.Close()
	rp.WaitForCatchUp()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _, err := rp.ReadPage(data.PageAddr{PageID: int32(rand.Intn(benchPages))})
		assert.Nil(b, err)
	}
}
