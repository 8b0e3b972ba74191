package data

// MVCCID 事务可见性 id, 取自一个循环的 id 空间
type MVCCID uint64

const (
	MVCCIDNull       MVCCID = 0
	MVCCIDAllVisible MVCCID = 3
	MVCCIDFirst      MVCCID = 4
)

// MVCCIDPrecedes 判断 a 是否在 b 之前, 考虑了回绕
func MVCCIDPrecedes(a, b MVCCID) bool {
	return int64(a-b) < 0
}

// MVCCIDForward 返回 id 的下一个值, 回绕时跳过保留的 id
func MVCCIDForward(id MVCCID) MVCCID {
	id++
	if id < MVCCIDFirst {
		id = MVCCIDFirst
	}
	return id
}
