// Package piece 描述 torrent 内容如何切分为 piece 与块，并定义各存储层实现的
// Writer 契约。一个块可能跨越多个文件；BufferedIO 携带绝对偏移与涉及的文件，
// Writer 无需再查询布局。
package piece
